package core

import (
	"errors"
)

var (
	ErrSwapchainOutOfDate    = errors.New("swapchain out of date")
	ErrSwapchainSuboptimal   = errors.New("swapchain suboptimal")
	ErrAllocationFailed      = errors.New("resource allocation failed")
	ErrRayTracingUnsupported = errors.New("device does not support ray tracing")
	ErrASBuildFailed         = errors.New("acceleration structure build failed")
	ErrRefitNotAllowed       = errors.New("acceleration structure was not built with update support")
	ErrInstanceCountMismatch = errors.New("instance count differs from the structure's build")
	ErrPipelineCreation      = errors.New("pipeline creation failed")
	ErrUnknownResource       = errors.New("unknown resource handle")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrUnknown               = errors.New("unknown")
)

// IsFatal reports whether err belongs to the setup class of failures that
// terminate the process: allocation, acceleration structure creation or a
// missing ray tracing capability.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAllocationFailed) ||
		errors.Is(err, ErrASBuildFailed) ||
		errors.Is(err, ErrRefitNotAllowed) ||
		errors.Is(err, ErrInstanceCountMismatch) ||
		errors.Is(err, ErrRayTracingUnsupported)
}

// IsPresentationTransient reports whether err only requires the surface and
// every resolution dependent resource to be recreated.
func IsPresentationTransient(err error) bool {
	return errors.Is(err, ErrSwapchainOutOfDate) || errors.Is(err, ErrSwapchainSuboptimal)
}
