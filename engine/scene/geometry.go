package scene

import (
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/math"
)

const DefaultMaterialName = "default"

// Geometry is CPU-side vertex and index data before it is appended to a
// scene.
type Geometry struct {
	Name         string
	MaterialName string
	Vertices     []math.Vertex
	Indices      []uint32
}

func nonZero(name string, v float32) float32 {
	if v == 0 {
		core.LogWarn("%s must be nonzero. Defaulting to one.", name)
		return 1
	}
	return v
}

func namedGeometry(name, materialName string, vertexCount, indexCount int) *Geometry {
	g := &Geometry{
		Name:         name,
		MaterialName: materialName,
		Vertices:     make([]math.Vertex, vertexCount),
		Indices:      make([]uint32, indexCount),
	}
	if g.MaterialName == "" {
		g.MaterialName = DefaultMaterialName
	}
	return g
}

// quadIndices writes the two triangles of the quad starting at vertex base.
func quadIndices(dst []uint32, base uint32) {
	dst[0], dst[1], dst[2] = base, base+1, base+2
	dst[3], dst[4], dst[5] = base, base+3, base+1
}

// GeneratePlane builds a plane in the XZ plane facing +Y, split in
// xSegments by zSegments quads.
func GeneratePlane(width, depth float32, xSegments, zSegments uint32, tileX, tileY float32, name, materialName string) *Geometry {
	width = nonZero("width", width)
	depth = nonZero("depth", depth)
	tileX = nonZero("tileX", tileX)
	tileY = nonZero("tileY", tileY)
	if xSegments < 1 {
		core.LogWarn("xSegments must be a positive number. Defaulting to one.")
		xSegments = 1
	}
	if zSegments < 1 {
		core.LogWarn("zSegments must be a positive number. Defaulting to one.")
		zSegments = 1
	}

	g := namedGeometry(name, materialName, int(xSegments*zSegments*4), int(xSegments*zSegments*6))
	segWidth := width / float32(xSegments)
	segDepth := depth / float32(zSegments)
	up := math.NewVec3(0, 1, 0)
	for z := uint32(0); z < zSegments; z++ {
		for x := uint32(0); x < xSegments; x++ {
			minX := float32(x)*segWidth - width*0.5
			minZ := float32(z)*segDepth - depth*0.5
			maxX, maxZ := minX+segWidth, minZ+segDepth
			minU := float32(x) / float32(xSegments) * tileX
			minV := float32(z) / float32(zSegments) * tileY
			maxU := float32(x+1) / float32(xSegments) * tileX
			maxV := float32(z+1) / float32(zSegments) * tileY

			base := (z*xSegments + x) * 4
			v := g.Vertices[base : base+4]
			v[0] = math.Vertex{Position: math.NewVec3(minX, 0, maxZ), Normal: up, Texcoord: math.Vec2{X: minU, Y: minV}}
			v[1] = math.Vertex{Position: math.NewVec3(maxX, 0, minZ), Normal: up, Texcoord: math.Vec2{X: maxU, Y: maxV}}
			v[2] = math.Vertex{Position: math.NewVec3(minX, 0, minZ), Normal: up, Texcoord: math.Vec2{X: minU, Y: maxV}}
			v[3] = math.Vertex{Position: math.NewVec3(maxX, 0, maxZ), Normal: up, Texcoord: math.Vec2{X: maxU, Y: minV}}

			i := (z*xSegments + x) * 6
			quadIndices(g.Indices[i:i+6], base)
		}
	}
	return g
}

// GenerateCube builds an axis aligned box centred on the origin with four
// vertices per face so every face keeps a flat normal.
func GenerateCube(width, height, depth, tileX, tileY float32, name, materialName string) *Geometry {
	hx := nonZero("width", width) * 0.5
	hy := nonZero("height", height) * 0.5
	hz := nonZero("depth", depth) * 0.5
	tileX = nonZero("tileX", tileX)
	tileY = nonZero("tileY", tileY)

	faces := []struct {
		normal  math.Vec3
		corners [4]math.Vec3
	}{
		{math.NewVec3(0, 0, 1), [4]math.Vec3{{X: -hx, Y: -hy, Z: hz}, {X: hx, Y: hy, Z: hz}, {X: -hx, Y: hy, Z: hz}, {X: hx, Y: -hy, Z: hz}}},
		{math.NewVec3(0, 0, -1), [4]math.Vec3{{X: hx, Y: -hy, Z: -hz}, {X: -hx, Y: hy, Z: -hz}, {X: hx, Y: hy, Z: -hz}, {X: -hx, Y: -hy, Z: -hz}}},
		{math.NewVec3(-1, 0, 0), [4]math.Vec3{{X: -hx, Y: -hy, Z: -hz}, {X: -hx, Y: hy, Z: hz}, {X: -hx, Y: hy, Z: -hz}, {X: -hx, Y: -hy, Z: hz}}},
		{math.NewVec3(1, 0, 0), [4]math.Vec3{{X: hx, Y: -hy, Z: hz}, {X: hx, Y: hy, Z: -hz}, {X: hx, Y: hy, Z: hz}, {X: hx, Y: -hy, Z: -hz}}},
		{math.NewVec3(0, -1, 0), [4]math.Vec3{{X: hx, Y: -hy, Z: hz}, {X: -hx, Y: -hy, Z: -hz}, {X: hx, Y: -hy, Z: -hz}, {X: -hx, Y: -hy, Z: hz}}},
		{math.NewVec3(0, 1, 0), [4]math.Vec3{{X: -hx, Y: hy, Z: hz}, {X: hx, Y: hy, Z: -hz}, {X: -hx, Y: hy, Z: -hz}, {X: hx, Y: hy, Z: hz}}},
	}
	uvs := [4]math.Vec2{{X: 0, Y: 0}, {X: tileX, Y: tileY}, {X: 0, Y: tileY}, {X: tileX, Y: 0}}

	g := namedGeometry(name, materialName, 24, 36)
	for f, face := range faces {
		base := uint32(f * 4)
		for c := range face.corners {
			g.Vertices[int(base)+c] = math.Vertex{Position: face.corners[c], Normal: face.normal, Texcoord: uvs[c]}
		}
		quadIndices(g.Indices[f*6:f*6+6], base)
	}
	return g
}
