// Package accel owns the bottom level structures (one per mesh), the single
// top level structure over every instance and the scratch memory shared by
// all of their builds.
package accel

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/containers"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/math"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
)

// Geometry is the triangle input of one bottom level structure.
type Geometry struct {
	Name      string
	Triangles []gpu.TriangleGeometry
}

// UpdateMode selects how the top level structure follows animated instances.
type UpdateMode int

const (
	ModeRefit UpdateMode = iota
	ModeRebuild
)

func (m UpdateMode) String() string {
	if m == ModeRebuild {
		return "rebuild"
	}
	return "refit"
}

type Stats struct {
	BottomLevel int
	Builds      int
	Refits      int
	Rebuilds    int
	ScratchSize int64
}

type ManagerConfig struct {
	Device     gpu.Device
	RayTracing gpu.RayTracing
	Pool       *resources.Pool
}

type Manager struct {
	device gpu.Device
	rt     gpu.RayTracing
	props  gpu.RayTracingProperties
	pool   *resources.Pool

	blas []*Structure
	tlas *Structure

	scratch      resources.Handle
	scratchSize  int64
	requirements []int64

	stats Stats
}

func NewManager(config *ManagerConfig) (*Manager, error) {
	if config.Device == nil || config.RayTracing == nil || config.Pool == nil {
		err := fmt.Errorf("func NewManager - device, ray tracing capabilities and pool are required")
		core.LogError(err.Error())
		return nil, err
	}
	return &Manager{
		device: config.Device,
		rt:     config.RayTracing,
		props:  config.RayTracing.Properties(),
		pool:   config.Pool,
	}, nil
}

func topLevelFlags(allowUpdate bool) gpu.BuildFlags {
	flags := gpu.BuildPreferFastTrace
	if allowUpdate {
		flags |= gpu.BuildAllowUpdate
	}
	return flags
}

// Prepare allocates the scratch buffer once, sized to the largest scratch
// requirement among every bottom level build and the top level build and
// update.
func (am *Manager) Prepare(geometries []Geometry, instanceCount uint32, allowUpdate bool) error {
	if am.scratch != containers.InvalidHandle {
		return fmt.Errorf("scratch memory already prepared")
	}
	am.requirements = am.requirements[:0]
	for _, g := range geometries {
		sizes := am.rt.BuildSizes(gpu.ASBuildInfo{
			Level:     gpu.BottomLevel,
			Flags:     gpu.BuildPreferFastTrace,
			Triangles: g.Triangles,
		})
		am.requirements = append(am.requirements, sizes.BuildScratchSize)
	}
	tlas := am.rt.BuildSizes(gpu.ASBuildInfo{
		Level:         gpu.TopLevel,
		Flags:         topLevelFlags(allowUpdate),
		InstanceCount: instanceCount,
	})
	am.requirements = append(am.requirements, tlas.BuildScratchSize, tlas.UpdateScratchSize)

	size := math.MaxOf(am.requirements...)
	if align := int64(am.props.MinScratchOffsetAlignment); align > 0 {
		size = math.AlignUp(size, align)
	}
	h, err := am.pool.Allocate(resources.Request{
		Name:        "as.scratch",
		Kind:        resources.KindBuffer,
		Size:        size,
		BufferUsage: gpu.BufferUsageScratch | gpu.BufferUsageStorage | gpu.BufferUsageDeviceAddress,
	})
	if err != nil {
		return err
	}
	am.scratch = h
	am.scratchSize = size
	am.stats.ScratchSize = size
	core.LogDebug("acceleration structure scratch: %d bytes over %d requirements", size, len(am.requirements))
	return nil
}

// ScratchRequirements lists the scratch sizes considered by Prepare.
func (am *Manager) ScratchRequirements() []int64 {
	return append([]int64(nil), am.requirements...)
}

func (am *Manager) ScratchSize() int64 {
	return am.scratchSize
}

func (am *Manager) checkScratch(s *Structure, required int64) error {
	if am.scratch == containers.InvalidHandle {
		return fmt.Errorf("%s: scratch memory not prepared: %w", s, core.ErrASBuildFailed)
	}
	if required > am.scratchSize {
		return fmt.Errorf("%s needs %d scratch bytes, %d prepared: %w", s, required, am.scratchSize, core.ErrASBuildFailed)
	}
	return nil
}

func (am *Manager) createStructure(name string, level gpu.ASLevel, sizes gpu.BuildSizes) (*Structure, error) {
	size := math.AlignUp(sizes.StructureSize, 256)
	h, err := am.pool.Allocate(resources.Request{
		Name:        name,
		Kind:        resources.KindBuffer,
		Size:        size,
		BufferUsage: gpu.BufferUsageASStorage | gpu.BufferUsageDeviceAddress,
	})
	if err != nil {
		return nil, err
	}
	handle, err := am.rt.CreateAccelerationStructure(level, am.pool.Buffer(h), 0, size)
	if err != nil {
		_ = am.pool.Release(h)
		return nil, fmt.Errorf("%s: %v: %w", name, err, core.ErrASBuildFailed)
	}
	return &Structure{Name: name, level: level, handle: handle, backing: h, sizes: sizes}, nil
}

func (s *Structure) release(pool *resources.Pool) {
	if s.handle != nil {
		s.handle.Destroy()
		s.handle = nil
	}
	if s.backing != containers.InvalidHandle {
		_ = pool.Release(s.backing)
		s.backing = containers.InvalidHandle
	}
	s.built = false
}

// record issues one build and makes its result visible to the next build
// and to tracing.
func (am *Manager) record(cs gpu.CommandStream, info gpu.ASBuildInfo) {
	info.Scratch = am.pool.Buffer(am.scratch)
	cs.BuildAccelerationStructures([]gpu.ASBuildInfo{info})
	cs.Barrier([]gpu.MemoryBarrier{{
		SrcStage:  gpu.StageASBuild,
		DstStage:  gpu.StageASBuild | gpu.StageRayTracingShader,
		SrcAccess: gpu.AccessASWrite,
		DstAccess: gpu.AccessASRead | gpu.AccessASWrite,
	}}, nil)
}

func (am *Manager) BuildBottomLevel(cs gpu.CommandStream, geometry Geometry) (*Structure, error) {
	info := gpu.ASBuildInfo{
		Level:     gpu.BottomLevel,
		Flags:     gpu.BuildPreferFastTrace,
		Mode:      gpu.BuildModeBuild,
		Triangles: geometry.Triangles,
	}
	sizes := am.rt.BuildSizes(info)
	s, err := am.createStructure("blas."+geometry.Name, gpu.BottomLevel, sizes)
	if err != nil {
		return nil, err
	}
	if err := am.checkScratch(s, sizes.BuildScratchSize); err != nil {
		s.release(am.pool)
		return nil, err
	}
	info.Dst = s.handle
	am.record(cs, info)

	s.flags = info.Flags
	s.built = true
	am.blas = append(am.blas, s)
	am.stats.BottomLevel++
	am.stats.Builds++
	return s, nil
}

func (am *Manager) writeInstances(buffer gpu.Buffer, instances []Instance) error {
	for i, inst := range instances {
		if inst.BLAS == nil || !inst.BLAS.built || inst.BLAS.level != gpu.BottomLevel {
			return fmt.Errorf("instance %d references no built bottom level structure: %w", i, core.ErrASBuildFailed)
		}
	}
	if need := int64(len(instances)) * gpu.InstanceSize; buffer == nil || need > buffer.Size() {
		return fmt.Errorf("instance buffer cannot hold %d instances: %w", len(instances), core.ErrASBuildFailed)
	}
	return am.device.WriteBuffer(buffer, 0, EncodeInstances(instances))
}

func (am *Manager) topLevelInfo(s *Structure, mode gpu.BuildMode, buffer gpu.Buffer, count uint32) gpu.ASBuildInfo {
	info := gpu.ASBuildInfo{
		Level:         gpu.TopLevel,
		Flags:         s.flags,
		Mode:          mode,
		Instances:     buffer,
		InstanceCount: count,
		Dst:           s.handle,
	}
	if mode == gpu.BuildModeUpdate {
		info.Src = s.handle
	}
	return info
}

// BuildTopLevel creates and builds the single top level structure. With
// allowUpdate it can later be refit at the cost of a larger build.
func (am *Manager) BuildTopLevel(cs gpu.CommandStream, instances []Instance, buffer gpu.Buffer, allowUpdate bool) (*Structure, error) {
	if am.tlas != nil {
		return nil, fmt.Errorf("top level structure already built, rebuild it instead")
	}
	if err := am.writeInstances(buffer, instances); err != nil {
		return nil, err
	}
	flags := topLevelFlags(allowUpdate)
	count := uint32(len(instances))
	sizes := am.rt.BuildSizes(gpu.ASBuildInfo{Level: gpu.TopLevel, Flags: flags, InstanceCount: count})
	s, err := am.createStructure("tlas", gpu.TopLevel, sizes)
	if err != nil {
		return nil, err
	}
	s.flags = flags
	if err := am.checkScratch(s, sizes.BuildScratchSize); err != nil {
		s.release(am.pool)
		return nil, err
	}
	am.record(cs, am.topLevelInfo(s, gpu.BuildModeBuild, buffer, count))

	s.instanceCount = count
	s.built = true
	am.tlas = s
	am.stats.Builds++
	core.LogDebug("built %s over %d instances (allow update: %t)", s, count, allowUpdate)
	return s, nil
}

// Refit updates tlas in place from new instance transforms. It is only legal
// when tlas was built with update support and the instance count is the one
// it was built with.
func (am *Manager) Refit(cs gpu.CommandStream, tlas *Structure, instances []Instance, buffer gpu.Buffer) error {
	if tlas == nil || !tlas.built {
		return fmt.Errorf("refit of a structure that was never built: %w", core.ErrASBuildFailed)
	}
	if !tlas.AllowsUpdate() {
		return fmt.Errorf("refit %s: %w", tlas, core.ErrRefitNotAllowed)
	}
	count := uint32(len(instances))
	if count != tlas.instanceCount {
		return fmt.Errorf("refit %s with %d instances, built with %d: %w", tlas, count, tlas.instanceCount, core.ErrInstanceCountMismatch)
	}
	if err := am.checkScratch(tlas, tlas.sizes.UpdateScratchSize); err != nil {
		return err
	}
	if err := am.writeInstances(buffer, instances); err != nil {
		return err
	}
	am.record(cs, am.topLevelInfo(tlas, gpu.BuildModeUpdate, buffer, count))
	am.stats.Refits++
	return nil
}

// Rebuild discards the content of tlas and builds it again. The backing
// memory is only replaced when the new instance set no longer fits.
func (am *Manager) Rebuild(cs gpu.CommandStream, tlas *Structure, instances []Instance, buffer gpu.Buffer) error {
	if tlas == nil || tlas.level != gpu.TopLevel {
		return fmt.Errorf("rebuild needs a top level structure: %w", core.ErrASBuildFailed)
	}
	count := uint32(len(instances))
	sizes := am.rt.BuildSizes(gpu.ASBuildInfo{Level: gpu.TopLevel, Flags: tlas.flags, InstanceCount: count})
	if err := am.checkScratch(tlas, sizes.BuildScratchSize); err != nil {
		return err
	}
	if err := am.writeInstances(buffer, instances); err != nil {
		return err
	}
	if sizes.StructureSize > tlas.sizes.StructureSize {
		flags := tlas.flags
		tlas.release(am.pool)
		grown, err := am.createStructure(tlas.Name, gpu.TopLevel, sizes)
		if err != nil {
			return err
		}
		*tlas = *grown
		tlas.flags = flags
	}
	am.record(cs, am.topLevelInfo(tlas, gpu.BuildModeBuild, buffer, count))
	tlas.instanceCount = count
	tlas.built = true
	am.stats.Rebuilds++
	return nil
}

// Update follows animated instances on the managed top level structure.
func (am *Manager) Update(cs gpu.CommandStream, mode UpdateMode, instances []Instance, buffer gpu.Buffer) error {
	if mode == ModeRebuild {
		return am.Rebuild(cs, am.tlas, instances, buffer)
	}
	return am.Refit(cs, am.tlas, instances, buffer)
}

func (am *Manager) TopLevel() *Structure { return am.tlas }

func (am *Manager) BottomLevels() []*Structure {
	return append([]*Structure(nil), am.blas...)
}

func (am *Manager) Stats() Stats { return am.stats }

// Shutdown destroys every structure and frees their memory and the scratch.
func (am *Manager) Shutdown() error {
	if am.tlas != nil {
		am.tlas.release(am.pool)
		am.tlas = nil
	}
	for _, s := range am.blas {
		s.release(am.pool)
	}
	am.blas = nil
	if am.scratch != containers.InvalidHandle {
		if err := am.pool.Release(am.scratch); err != nil {
			return err
		}
		am.scratch = containers.InvalidHandle
	}
	return nil
}
