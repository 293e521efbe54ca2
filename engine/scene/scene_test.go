package scene

import (
	"encoding/binary"
	"errors"
	m "math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/math"
)

func TestGeneratedGeometryIsClosed(t *testing.T) {
	cube := GenerateCube(2, 2, 2, 1, 1, "cube", "")
	assert.Len(t, cube.Vertices, 24)
	assert.Len(t, cube.Indices, 36)
	assert.Equal(t, DefaultMaterialName, cube.MaterialName)

	// every triangle winds towards its face normal
	for i := 0; i < len(cube.Indices); i += 3 {
		a := cube.Vertices[cube.Indices[i]]
		b := cube.Vertices[cube.Indices[i+1]]
		c := cube.Vertices[cube.Indices[i+2]]
		n := b.Position.Sub(a.Position).Cross(c.Position.Sub(a.Position))
		assert.Greater(t, n.Dot(a.Normal), float32(0), "triangle %d", i/3)
	}

	plane := GeneratePlane(4, 4, 2, 3, 1, 1, "floor", "stone")
	assert.Len(t, plane.Vertices, 24)
	assert.Len(t, plane.Indices, 36)
	for _, v := range plane.Vertices {
		assert.Equal(t, float32(0), v.Position.Y)
		assert.LessOrEqual(t, math.Abs(v.Position.X), float32(2))
	}
}

func TestZeroSizesDefaultToOne(t *testing.T) {
	cube := GenerateCube(0, 0, 0, 0, 0, "unit", "")
	for _, v := range cube.Vertices {
		assert.Equal(t, float32(0.5), math.Abs(v.Position.X))
	}
}

func TestAddGeometryOffsetsRanges(t *testing.T) {
	s := New("test")
	red := s.AddMaterial(Material{Name: "red", Albedo: math.NewVec3(1, 0, 0)})
	a, err := s.AddGeometry(GenerateCube(1, 1, 1, 1, 1, "a", "red"))
	require.NoError(t, err)
	b, err := s.AddGeometry(GeneratePlane(1, 1, 1, 1, 1, 1, "b", "missing"))
	require.NoError(t, err)

	assert.Equal(t, uint32(0), s.Meshes[a].FirstVertex)
	assert.Equal(t, uint32(24), s.Meshes[b].FirstVertex)
	assert.Equal(t, uint32(36), s.Meshes[b].FirstIndex)
	assert.Equal(t, red, s.Meshes[a].Material)
	assert.Equal(t, uint32(0), s.Meshes[b].Material, "unknown material falls back to the default")

	_, err = s.AddGeometry(GenerateCube(1, 1, 1, 1, 1, "a", ""))
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestInstanceIdentityIsStable(t *testing.T) {
	build := func() *Scene {
		s := New("stable")
		mesh, err := s.AddGeometry(GenerateCube(1, 1, 1, 1, 1, "cube", ""))
		require.NoError(t, err)
		_, err = s.AddInstance("first", mesh, nil)
		require.NoError(t, err)
		_, err = s.AddInstance("second", mesh, nil)
		require.NoError(t, err)
		return s
	}
	a, b := build(), build()
	assert.Equal(t, a.Instances[0].ID, b.Instances[0].ID)
	assert.NotEqual(t, a.Instances[0].ID, a.Instances[1].ID)

	_, err := a.AddInstance("first", 0, nil)
	assert.Error(t, err)
	_, err = a.AddInstance("ghost", 7, nil)
	assert.Error(t, err)
}

func TestCameraChangeDetection(t *testing.T) {
	c := NewCamera()
	assert.True(t, c.Changed())
	assert.False(t, c.Changed())
	c.Orbit(0.1)
	assert.True(t, c.Changed())
	assert.False(t, c.Changed())
	c.SetTarget(math.NewVec3(0, 1, 0))
	assert.True(t, c.Changed())
}

func TestCameraSlowDriftStillCountsAsChange(t *testing.T) {
	c := NewCamera()
	require.True(t, c.Changed())

	step := math.NewVec3(4e-6, 0, 0)
	var changes int
	for i := 0; i < 10; i++ {
		c.SetPosition(c.Position.Add(step))
		if c.Changed() {
			changes++
		}
	}
	// each step is below the tolerance but the drift since the last
	// reported change is not
	assert.Positive(t, changes)
	assert.Less(t, changes, 10)
}

func TestAnimatorOnlyMovesSpinningInstances(t *testing.T) {
	s := Default()
	anim := NewAnimator(s)
	spinner := s.Instances[1]
	block := s.Instances[2]
	require.True(t, spinner.Animated())
	blockBefore := block.Transform.Local()
	spinBefore := spinner.Transform.Local()

	assert.True(t, anim.Update(100*time.Millisecond))
	assert.Equal(t, blockBefore, block.Transform.Local())
	assert.NotEqual(t, spinBefore, spinner.Transform.Local())

	anim.SetPaused(true)
	assert.False(t, anim.Update(100*time.Millisecond))
}

func TestDefaultScene(t *testing.T) {
	s := Default()
	assert.Equal(t, "courtyard", s.Name)
	assert.Len(t, s.Instances, 4)
	assert.Len(t, s.Lights, 2)
	assert.True(t, s.Animated())
	assert.Equal(t, LightPoint, s.Lights[1].Kind)
}

func TestParseRejectsBadScenes(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "name = \"x\"\ncolour = 3\n",
		"unknown mesh": "[[instances]]\nname = \"a\"\nmesh = \"nope\"\n",
		"mesh kind":    "[[meshes]]\nname = \"a\"\nkind = \"torus\"\n",
		"empty":        "name = \"empty\"\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrInvalidConfig))
		})
	}
}

func TestParseAddsSunWhenUnlit(t *testing.T) {
	s, err := Parse(strings.NewReader(`
[[meshes]]
name = "c"
kind = "cube"
size = [1.0, 1.0, 1.0]

[[instances]]
name = "c"
mesh = "c"
`))
	require.NoError(t, err)
	require.Len(t, s.Lights, 1)
	assert.Equal(t, LightDirectional, s.Lights[0].Kind)
}

func TestEncodedRecordSizes(t *testing.T) {
	s := Default()
	assert.Len(t, s.EncodeVertices(), len(s.Vertices)*math.VertexStride)
	assert.Len(t, s.EncodeIndices(), len(s.Indices)*4)
	assert.Len(t, s.EncodeMaterials(), len(s.Materials)*MaterialRecordSize)
	lights := s.EncodeLights()
	require.Len(t, lights, len(s.Lights)*LightRecordSize)
	assert.Equal(t, uint32(LightPoint), binary.LittleEndian.Uint32(lights[LightRecordSize+12:]))
	assert.Equal(t, float32(8), m.Float32frombits(binary.LittleEndian.Uint32(lights[LightRecordSize+28:])))
}
