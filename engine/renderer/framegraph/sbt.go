package framegraph

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/containers"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/math"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
)

// sbtLayout places the raygen, miss and hit regions of a shader binding
// table. Each region starts on the group base alignment, records are spaced
// by the handle size rounded to the handle alignment and the raygen region
// is exactly one record.
type sbtLayout struct {
	handleStride int64
	raygen       region
	miss         region
	hit          region
	size         int64
}

type region struct {
	offset, stride, size int64
}

func newSBTLayout(props gpu.RayTracingProperties, missCount, hitCount int) sbtLayout {
	base := int64(props.ShaderGroupBaseAlignment)
	stride := math.AlignUp(int64(props.ShaderGroupHandleSize), int64(props.ShaderGroupHandleAlignment))

	var l sbtLayout
	l.handleStride = stride
	raygenStride := math.AlignUp(stride, base)
	l.raygen = region{offset: 0, stride: raygenStride, size: raygenStride}
	l.miss = region{offset: math.AlignUp(l.raygen.size, base), stride: stride, size: math.AlignUp(int64(missCount)*stride, base)}
	l.hit = region{offset: math.AlignUp(l.miss.offset+l.miss.size, base), stride: stride, size: math.AlignUp(int64(hitCount)*stride, base)}
	l.size = l.hit.offset + l.hit.size
	return l
}

// ShaderBindingTable maps the groups of one ray tracing pipeline to the
// regions consumed by TraceRays.
type ShaderBindingTable struct {
	buffer resources.Handle
	Raygen gpu.StridedRegion
	Miss   gpu.StridedRegion
	Hit    gpu.StridedRegion
}

// groupKinds returns the shader kind of every group of the pipeline, one
// group per stage, in stage order.
func groupKinds(desc gpu.PipelineDesc) []gpu.ShaderKind {
	kinds := make([]gpu.ShaderKind, len(desc.Stages))
	for i, s := range desc.Stages {
		kinds[i] = s.Kind
	}
	return kinds
}

func newShaderBindingTable(device gpu.Device, rt gpu.RayTracing, pool *resources.Pool, p gpu.Pipeline, kinds []gpu.ShaderKind) (*ShaderBindingTable, error) {
	props := rt.Properties()
	handles, err := rt.ShaderGroupHandles(p)
	if err != nil {
		return nil, fmt.Errorf("%s shader group handles: %v: %w", p.Name(), err, core.ErrPipelineCreation)
	}
	handleSize := int(props.ShaderGroupHandleSize)
	if len(handles) < len(kinds)*handleSize {
		return nil, fmt.Errorf("%s returned %d handle bytes for %d groups: %w", p.Name(), len(handles), len(kinds), core.ErrPipelineCreation)
	}

	var raygen, miss, hit []int
	for g, k := range kinds {
		switch k {
		case gpu.ShaderRaygen:
			raygen = append(raygen, g)
		case gpu.ShaderMiss:
			miss = append(miss, g)
		case gpu.ShaderClosestHit, gpu.ShaderAnyHit:
			hit = append(hit, g)
		}
	}
	if len(raygen) != 1 {
		return nil, fmt.Errorf("%s has %d raygen groups, exactly one is required: %w", p.Name(), len(raygen), core.ErrPipelineCreation)
	}

	layout := newSBTLayout(props, len(miss), len(hit))
	data := make([]byte, layout.size)
	put := func(r region, groups []int) {
		for i, g := range groups {
			off := r.offset + int64(i)*r.stride
			copy(data[off:off+int64(handleSize)], handles[g*handleSize:(g+1)*handleSize])
		}
	}
	put(layout.raygen, raygen)
	put(layout.miss, miss)
	put(layout.hit, hit)

	h, err := pool.Allocate(resources.Request{
		Name:        "sbt." + p.Name(),
		Kind:        resources.KindBuffer,
		Size:        layout.size,
		BufferUsage: gpu.BufferUsageShaderTable | gpu.BufferUsageDeviceAddress,
		Residency:   gpu.ResidencyHost,
	})
	if err != nil {
		return nil, err
	}
	buf := pool.Buffer(h)
	if err := device.WriteBuffer(buf, 0, data); err != nil {
		_ = pool.Release(h)
		return nil, err
	}

	address := rt.BufferAddress(buf)
	strided := func(r region) gpu.StridedRegion {
		if r.size == 0 {
			return gpu.StridedRegion{}
		}
		return gpu.StridedRegion{Buffer: buf, Address: address + uint64(r.offset), Offset: r.offset, Stride: r.stride, Size: r.size}
	}
	return &ShaderBindingTable{
		buffer: h,
		Raygen: strided(layout.raygen),
		Miss:   strided(layout.miss),
		Hit:    strided(layout.hit),
	}, nil
}

func (t *ShaderBindingTable) release(pool *resources.Pool) {
	if t == nil || t.buffer == containers.InvalidHandle {
		return
	}
	_ = pool.Release(t.buffer)
	t.buffer = containers.InvalidHandle
}
