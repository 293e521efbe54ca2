package accel

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
)

// Structure is a bottom or top level acceleration structure together with
// the pool buffer backing it.
type Structure struct {
	Name  string
	level gpu.ASLevel

	handle  gpu.AccelerationStructure
	backing resources.Handle
	sizes   gpu.BuildSizes
	flags   gpu.BuildFlags

	// set by the last full build
	instanceCount uint32
	built         bool
}

func (s *Structure) Level() gpu.ASLevel { return s.level }

// Handle is the device object bound by tracing passes.
func (s *Structure) Handle() gpu.AccelerationStructure { return s.handle }

// Backing is the pool handle of the memory holding the structure.
func (s *Structure) Backing() resources.Handle { return s.backing }

func (s *Structure) Sizes() gpu.BuildSizes { return s.sizes }
func (s *Structure) Flags() gpu.BuildFlags { return s.flags }
func (s *Structure) InstanceCount() uint32 { return s.instanceCount }
func (s *Structure) Built() bool           { return s.built }
func (s *Structure) AllowsUpdate() bool    { return s.flags&gpu.BuildAllowUpdate != 0 }

func (s *Structure) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.level)
}
