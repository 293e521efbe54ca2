package headless

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// Surface is an offscreen swapchain. Out-of-date and suboptimal results can
// be injected to exercise the resize path.
type Surface struct {
	dev    *Device
	extent gpu.Extent
	format gpu.Format
	images []*Image
	next   uint32

	outOfDate  bool
	suboptimal bool

	presented   int
	recreations int
}

func NewSurface(dev *Device, extent gpu.Extent, imageCount int) *Surface {
	s := &Surface{dev: dev, format: gpu.FormatBGRA8Unorm}
	s.createImages(extent, imageCount)
	return s
}

func (s *Surface) createImages(extent gpu.Extent, count int) {
	s.extent = extent
	s.images = make([]*Image, count)
	for i := range s.images {
		s.images[i] = &Image{
			id:        s.dev.id(),
			swapchain: true,
			desc: gpu.ImageDesc{
				Name:   fmt.Sprintf("swapchain-%d", i),
				Format: s.format,
				Extent: extent,
				Usage:  gpu.ImageUsageColorTarget | gpu.ImageUsageTransferDst,
			},
		}
		s.dev.images = append(s.dev.images, s.images[i])
	}
	s.next = 0
}

func (s *Surface) Extent() gpu.Extent { return s.extent }
func (s *Surface) Format() gpu.Format { return s.format }
func (s *Surface) ImageCount() int    { return len(s.images) }

func (s *Surface) Image(index uint32) gpu.Image {
	return s.images[index]
}

// MarkOutOfDate makes the next Acquire fail with ErrSwapchainOutOfDate, as a
// window resize would.
func (s *Surface) MarkOutOfDate(extent gpu.Extent) {
	s.outOfDate = true
	s.extent = extent
}

// MarkSuboptimal makes the next Present report a suboptimal swapchain.
func (s *Surface) MarkSuboptimal() {
	s.suboptimal = true
}

func (s *Surface) Presented() int   { return s.presented }
func (s *Surface) Recreations() int { return s.recreations }

func (s *Surface) Acquire(signal gpu.Semaphore, timeoutNs uint64) (uint32, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	if s.outOfDate {
		return 0, core.ErrSwapchainOutOfDate
	}
	sem := signal.(*Semaphore)
	if sem.signaled {
		s.dev.violate("acquire signals semaphore#%d which is already signaled", sem.id)
	}
	sem.signaled = true
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return idx, nil
}

func (s *Surface) Present(index uint32, wait []gpu.Semaphore) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	for _, w := range wait {
		sem := w.(*Semaphore)
		if !sem.signaled {
			s.dev.violate("present waits on semaphore#%d which nothing signaled", sem.id)
		}
		sem.signaled = false
	}
	img := s.images[index]
	if img.layout != gpu.LayoutPresent {
		s.dev.violate("presenting %s in %s", img, img.layout)
	}
	s.presented++

	if s.outOfDate {
		return core.ErrSwapchainOutOfDate
	}
	if s.suboptimal {
		s.suboptimal = false
		return core.ErrSwapchainSuboptimal
	}
	return nil
}

func (s *Surface) Recreate(extent gpu.Extent) error {
	if extent.IsZero() {
		return fmt.Errorf("cannot recreate the surface at %dx%d", extent.Width, extent.Height)
	}
	for _, img := range s.images {
		img.destroyed = true
	}
	s.createImages(extent, len(s.images))
	s.outOfDate = false
	s.recreations++
	return nil
}

func (s *Surface) Destroy() {
	for _, img := range s.images {
		img.destroyed = true
	}
}
