// Package framegraph records the fixed hybrid pass sequence for one frame
// slot and inserts the barriers listed in its static edge table.
package framegraph

import (
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

type PassID int

const (
	PassGBuffer PassID = iota
	PassASUpdate
	PassShadow
	PassAO
	PassReflection
	PassLighting
	PassUI
	PassPresent
	passCount
)

// Order is the fixed execution order of a frame.
var Order = [passCount]PassID{
	PassGBuffer, PassASUpdate, PassShadow, PassAO, PassReflection, PassLighting, PassUI, PassPresent,
}

func (p PassID) String() string {
	switch p {
	case PassGBuffer:
		return "gbuffer"
	case PassASUpdate:
		return "as-update"
	case PassShadow:
		return "shadow"
	case PassAO:
		return "ao"
	case PassReflection:
		return "reflection"
	case PassLighting:
		return "lighting"
	case PassUI:
		return "ui"
	case PassPresent:
		return "present"
	}
	return "unknown"
}

// Traced reports whether the pass traces rays against the top level structure.
func (p PassID) Traced() bool {
	return p == PassShadow || p == PassAO || p == PassReflection
}

// Features toggles whole stages. Disabled stages are skipped entirely.
type Features struct {
	Shadows            bool
	AmbientOcclusion   bool
	Reflections        bool
	HalfResReflections bool
	UI                 bool
	Animate            bool
}

// AllFeatures enables every stage at full resolution.
func AllFeatures() Features {
	return Features{Shadows: true, AmbientOcclusion: true, Reflections: true, UI: true, Animate: true}
}

// Resource names what passes share. Images resolve to the frame slot's copy.
type Resource int

const (
	ResPosition Resource = iota
	ResNormal
	ResUV
	ResDepth
	ResTLAS
	ResShadow
	ResAO
	ResReflection
	ResComposite
	resourceCount
)

func (r Resource) String() string {
	return [...]string{"position", "normal", "uv", "depth", "tlas", "shadow", "ao", "reflection", "composite"}[r]
}

// IsImage is false for the top level structure, which only needs memory
// barriers.
func (r Resource) IsImage() bool {
	return r != ResTLAS
}

// Use is how a pass touches a resource.
type Use struct {
	Stage  gpu.Stage
	Access gpu.Access
	Layout gpu.Layout
}

func (u Use) Writes() bool {
	return u.Access.Writes() != 0
}

var (
	colorWrite   = Use{gpu.StageColorOutput, gpu.AccessColorWrite, gpu.LayoutColorTarget}
	colorLoad    = Use{gpu.StageColorOutput, gpu.AccessColorRead | gpu.AccessColorWrite, gpu.LayoutColorTarget}
	depthWrite   = Use{gpu.StageEarlyFragmentTests | gpu.StageLateFragmentTests, gpu.AccessDepthRead | gpu.AccessDepthWrite, gpu.LayoutDepthTarget}
	tracedRead   = Use{gpu.StageRayTracingShader, gpu.AccessShaderRead, gpu.LayoutShaderRead}
	tracedWrite  = Use{gpu.StageRayTracingShader, gpu.AccessShaderWrite, gpu.LayoutGeneral}
	fragmentRead = Use{gpu.StageFragmentShader, gpu.AccessShaderRead, gpu.LayoutShaderRead}
	tlasWrite    = Use{gpu.StageASBuild, gpu.AccessASRead | gpu.AccessASWrite, gpu.LayoutUndefined}
	tlasRead     = Use{gpu.StageRayTracingShader, gpu.AccessASRead, gpu.LayoutUndefined}
	copySource   = Use{gpu.StageTransfer, gpu.AccessTransferRead, gpu.LayoutTransferSrc}
)

// Uses lists, per pass, every resource it touches.
var Uses = map[PassID]map[Resource]Use{
	PassGBuffer: {
		ResPosition: colorWrite,
		ResNormal:   colorWrite,
		ResUV:       colorWrite,
		ResDepth:    depthWrite,
	},
	PassASUpdate: {
		ResTLAS: tlasWrite,
	},
	PassShadow: {
		ResPosition: tracedRead,
		ResTLAS:     tlasRead,
		ResShadow:   tracedWrite,
	},
	PassAO: {
		ResPosition: tracedRead,
		ResNormal:   tracedRead,
		ResTLAS:     tlasRead,
		ResAO:       tracedWrite,
	},
	PassReflection: {
		ResPosition:   tracedRead,
		ResNormal:     tracedRead,
		ResUV:         tracedRead,
		ResTLAS:       tlasRead,
		ResReflection: tracedWrite,
	},
	PassLighting: {
		ResPosition:   fragmentRead,
		ResNormal:     fragmentRead,
		ResUV:         fragmentRead,
		ResDepth:      fragmentRead,
		ResShadow:     fragmentRead,
		ResAO:         fragmentRead,
		ResReflection: fragmentRead,
		ResComposite:  colorWrite,
	},
	PassUI: {
		ResComposite: colorLoad,
	},
	PassPresent: {
		ResComposite: copySource,
	},
}
