package scene

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/math"
)

type vec3 [3]float32

func (v vec3) vec() math.Vec3 { return math.NewVec3(v[0], v[1], v[2]) }

type cameraFile struct {
	Position *vec3   `toml:"position"`
	Target   *vec3   `toml:"target"`
	Fov      float32 `toml:"fov"`
}

type materialFile struct {
	Name      string  `toml:"name"`
	Albedo    vec3    `toml:"albedo"`
	Roughness float32 `toml:"roughness"`
	Metallic  float32 `toml:"metallic"`
	Emissive  vec3    `toml:"emissive"`
}

type meshFile struct {
	Name     string     `toml:"name"`
	Kind     string     `toml:"kind"`
	Size     vec3       `toml:"size"`
	Segments [2]uint32  `toml:"segments"`
	Tile     [2]float32 `toml:"tile"`
	Material string     `toml:"material"`
}

type instanceFile struct {
	Name     string  `toml:"name"`
	Mesh     string  `toml:"mesh"`
	Position vec3    `toml:"position"`
	Yaw      float32 `toml:"yaw"`
	Scale    *vec3   `toml:"scale"`
	Spin     float32 `toml:"spin"`
}

type lightFile struct {
	Kind      string  `toml:"kind"`
	Position  vec3    `toml:"position"`
	Direction vec3    `toml:"direction"`
	Color     *vec3   `toml:"color"`
	Intensity float32 `toml:"intensity"`
	Radius    float32 `toml:"radius"`
}

type file struct {
	Name      string         `toml:"name"`
	Camera    cameraFile     `toml:"camera"`
	Materials []materialFile `toml:"materials"`
	Meshes    []meshFile     `toml:"meshes"`
	Instances []instanceFile `toml:"instances"`
	Lights    []lightFile    `toml:"lights"`
}

// Load reads a scene description from a TOML file.
func Load(path string) (*Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		err := fmt.Errorf("func Load - cannot open scene %s: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a scene description. Unknown keys are rejected.
func Parse(r io.Reader) (*Scene, error) {
	var desc file
	d := toml.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(&desc); err != nil {
		return nil, fmt.Errorf("scene: %v: %w", err, core.ErrInvalidConfig)
	}
	return build(&desc)
}

func build(desc *file) (*Scene, error) {
	if desc.Name == "" {
		desc.Name = "untitled"
	}
	s := New(desc.Name)
	if desc.Camera.Position != nil {
		s.Camera.SetPosition(desc.Camera.Position.vec())
	}
	if desc.Camera.Target != nil {
		s.Camera.SetTarget(desc.Camera.Target.vec())
	}
	if desc.Camera.Fov > 0 {
		s.Camera.FovY = math.DegToRad(desc.Camera.Fov)
	}

	for _, mf := range desc.Materials {
		if mf.Name == "" {
			return nil, fmt.Errorf("scene %s: material without a name: %w", desc.Name, core.ErrInvalidConfig)
		}
		s.AddMaterial(Material{
			Name:      mf.Name,
			Albedo:    mf.Albedo.vec(),
			Roughness: math.Clamp(mf.Roughness, 0, 1),
			Metallic:  math.Clamp(mf.Metallic, 0, 1),
			Emissive:  mf.Emissive.vec(),
		})
	}

	for _, mf := range desc.Meshes {
		var g *Geometry
		switch mf.Kind {
		case "cube":
			g = GenerateCube(mf.Size[0], mf.Size[1], mf.Size[2], mf.Tile[0], mf.Tile[1], mf.Name, mf.Material)
		case "plane":
			g = GeneratePlane(mf.Size[0], mf.Size[2], mf.Segments[0], mf.Segments[1], mf.Tile[0], mf.Tile[1], mf.Name, mf.Material)
		default:
			return nil, fmt.Errorf("scene %s: mesh %q has unknown kind %q: %w", desc.Name, mf.Name, mf.Kind, core.ErrInvalidConfig)
		}
		if _, err := s.AddGeometry(g); err != nil {
			return nil, err
		}
	}

	for _, inf := range desc.Instances {
		mesh, ok := s.MeshIndex(inf.Mesh)
		if !ok {
			return nil, fmt.Errorf("scene %s: instance %q uses unknown mesh %q: %w", desc.Name, inf.Name, inf.Mesh, core.ErrInvalidConfig)
		}
		t := math.NewTransform(inf.Position.vec())
		t.Rotate(math.DegToRad(inf.Yaw))
		if inf.Scale != nil {
			t.SetScale(inf.Scale.vec())
		}
		inst, err := s.AddInstance(inf.Name, mesh, t)
		if err != nil {
			return nil, err
		}
		inst.Spin = inf.Spin
	}

	for _, lf := range desc.Lights {
		l := Light{Color: math.NewVec3(1, 1, 1), Intensity: lf.Intensity, Radius: lf.Radius}
		if lf.Color != nil {
			l.Color = lf.Color.vec()
		}
		if l.Intensity == 0 {
			l.Intensity = 1
		}
		switch lf.Kind {
		case "", "directional":
			l.Kind, l.Vector = LightDirectional, lf.Direction.vec().Normalized()
		case "point":
			l.Kind, l.Vector = LightPoint, lf.Position.vec()
		default:
			return nil, fmt.Errorf("scene %s: unknown light kind %q: %w", desc.Name, lf.Kind, core.ErrInvalidConfig)
		}
		s.AddLight(l)
	}

	if len(s.Instances) == 0 {
		return nil, fmt.Errorf("scene %s has no instances: %w", desc.Name, core.ErrInvalidConfig)
	}
	if len(s.Lights) == 0 {
		core.LogWarn("scene %s has no lights, adding a default sun", desc.Name)
		s.AddLight(Light{Kind: LightDirectional, Vector: math.NewVec3(-0.4, -1, -0.3).Normalized(), Color: math.NewVec3(1, 1, 1), Intensity: 3, Radius: 0.02})
	}
	return s, nil
}

const defaultScene = `
name = "courtyard"

[camera]
position = [0.0, 3.0, 8.0]
target = [0.0, 0.5, 0.0]
fov = 60.0

[[materials]]
name = "floor"
albedo = [0.75, 0.75, 0.72]
roughness = 0.9

[[materials]]
name = "red"
albedo = [0.8, 0.15, 0.1]
roughness = 0.5

[[materials]]
name = "mirror"
albedo = [0.95, 0.95, 0.95]
roughness = 0.02
metallic = 1.0

[[meshes]]
name = "floor"
kind = "plane"
size = [20.0, 0.0, 20.0]
segments = [4, 4]
tile = [4.0, 4.0]
material = "floor"

[[meshes]]
name = "cube"
kind = "cube"
size = [1.0, 1.0, 1.0]
material = "red"

[[meshes]]
name = "panel"
kind = "cube"
size = [3.0, 2.0, 0.1]
material = "mirror"

[[instances]]
name = "floor"
mesh = "floor"

[[instances]]
name = "spinner"
mesh = "cube"
position = [0.0, 0.5, 0.0]
spin = 0.8

[[instances]]
name = "block"
mesh = "cube"
position = [-2.0, 0.5, 1.0]
yaw = 30.0

[[instances]]
name = "mirror"
mesh = "panel"
position = [0.0, 1.0, -2.5]

[[lights]]
kind = "directional"
direction = [-0.4, -1.0, -0.3]
intensity = 3.0
radius = 0.02

[[lights]]
kind = "point"
position = [2.0, 3.0, 2.0]
color = [1.0, 0.85, 0.6]
intensity = 8.0
radius = 0.2
`

// Default returns the built-in demo scene.
func Default() *Scene {
	s, err := Parse(bytes.NewReader([]byte(defaultScene)))
	if err != nil {
		core.LogFatal("built-in scene is invalid: %s", err)
	}
	return s
}
