package scene

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/math"
)

// instanceNamespace scopes instance identities so the same scene file
// always yields the same IDs.
var instanceNamespace = uuid.MustParse("6f1c0a4e-3b8e-4f5c-9a57-2f4d8c1e0b93")

type Material struct {
	Name      string
	Albedo    math.Vec3
	Roughness float32
	Metallic  float32
	Emissive  math.Vec3
}

type LightKind uint32

const (
	LightDirectional LightKind = iota
	LightPoint
)

func (k LightKind) String() string {
	if k == LightPoint {
		return "point"
	}
	return "directional"
}

type Light struct {
	Kind LightKind
	// Position for point lights, direction the light travels for
	// directional ones.
	Vector    math.Vec3
	Color     math.Vec3
	Intensity float32
	// Radius of the emitter; soft shadow penumbrae grow with it.
	Radius float32
}

// Mesh is an immutable range of the scene's vertex and index arrays.
type Mesh struct {
	Name        string
	FirstVertex uint32
	VertexCount uint32
	FirstIndex  uint32
	IndexCount  uint32
	Material    uint32
}

// Instance places a mesh in the world.
type Instance struct {
	ID        uuid.UUID
	Name      string
	Mesh      int
	Transform *math.Transform
	// Spin is the yaw speed in radians per second applied by the Animator.
	Spin float32
}

func (i *Instance) Animated() bool {
	return i.Spin != 0
}

type Scene struct {
	Name      string
	Camera    *Camera
	Materials []Material
	Meshes    []Mesh
	Instances []*Instance
	Lights    []Light
	Vertices  []math.Vertex
	Indices   []uint32

	materialsByName map[string]uint32
	meshesByName    map[string]int
}

func New(name string) *Scene {
	s := &Scene{
		Name:            name,
		Camera:          NewCamera(),
		materialsByName: map[string]uint32{},
		meshesByName:    map[string]int{},
	}
	s.AddMaterial(Material{Name: DefaultMaterialName, Albedo: math.NewVec3(0.8, 0.8, 0.8), Roughness: 1})
	return s
}

// AddMaterial registers m, replacing an existing material of the same name.
func (s *Scene) AddMaterial(m Material) uint32 {
	if idx, ok := s.materialsByName[m.Name]; ok {
		s.Materials[idx] = m
		return idx
	}
	idx := uint32(len(s.Materials))
	s.Materials = append(s.Materials, m)
	s.materialsByName[m.Name] = idx
	return idx
}

func (s *Scene) MaterialIndex(name string) (uint32, bool) {
	idx, ok := s.materialsByName[name]
	return idx, ok
}

// AddGeometry appends g to the shared vertex and index arrays and returns
// the index of the new mesh. Indices stay relative to the mesh's first
// vertex.
func (s *Scene) AddGeometry(g *Geometry) (int, error) {
	if _, ok := s.meshesByName[g.Name]; ok {
		return 0, fmt.Errorf("mesh %q already exists: %w", g.Name, core.ErrInvalidConfig)
	}
	if len(g.Vertices) == 0 || len(g.Indices) == 0 || len(g.Indices)%3 != 0 {
		return 0, fmt.Errorf("mesh %q has no complete triangles: %w", g.Name, core.ErrInvalidConfig)
	}
	material, ok := s.materialsByName[g.MaterialName]
	if !ok {
		core.LogWarn("mesh %s uses unknown material %s, falling back to %s", g.Name, g.MaterialName, DefaultMaterialName)
		material = s.materialsByName[DefaultMaterialName]
	}
	for _, i := range g.Indices {
		if int(i) >= len(g.Vertices) {
			return 0, fmt.Errorf("mesh %q indexes vertex %d of %d: %w", g.Name, i, len(g.Vertices), core.ErrInvalidConfig)
		}
	}

	m := Mesh{
		Name:        g.Name,
		FirstVertex: uint32(len(s.Vertices)),
		VertexCount: uint32(len(g.Vertices)),
		FirstIndex:  uint32(len(s.Indices)),
		IndexCount:  uint32(len(g.Indices)),
		Material:    material,
	}
	s.Vertices = append(s.Vertices, g.Vertices...)
	s.Indices = append(s.Indices, g.Indices...)
	s.Meshes = append(s.Meshes, m)
	s.meshesByName[g.Name] = len(s.Meshes) - 1
	return len(s.Meshes) - 1, nil
}

func (s *Scene) MeshIndex(name string) (int, bool) {
	idx, ok := s.meshesByName[name]
	return idx, ok
}

// AddInstance places mesh in the world. The instance ID derives from the
// scene and instance names.
func (s *Scene) AddInstance(name string, mesh int, transform *math.Transform) (*Instance, error) {
	if mesh < 0 || mesh >= len(s.Meshes) {
		return nil, fmt.Errorf("instance %q references mesh %d of %d: %w", name, mesh, len(s.Meshes), core.ErrInvalidConfig)
	}
	id := uuid.NewSHA1(instanceNamespace, []byte(s.Name+"/"+name))
	for _, other := range s.Instances {
		if other.ID == id {
			return nil, fmt.Errorf("instance %q already exists: %w", name, core.ErrInvalidConfig)
		}
	}
	if transform == nil {
		transform = math.NewTransform(math.Vec3{})
	}
	inst := &Instance{ID: id, Name: name, Mesh: mesh, Transform: transform}
	s.Instances = append(s.Instances, inst)
	return inst, nil
}

func (s *Scene) AddLight(l Light) {
	s.Lights = append(s.Lights, l)
}

// Animated reports whether any instance moves over time.
func (s *Scene) Animated() bool {
	for _, inst := range s.Instances {
		if inst.Animated() {
			return true
		}
	}
	return false
}
