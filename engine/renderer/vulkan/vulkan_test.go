package vulkan

import (
	"errors"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

func TestFormatsRoundTrip(t *testing.T) {
	for _, f := range []gpu.Format{gpu.FormatRGBA8Unorm, gpu.FormatBGRA8Unorm, gpu.FormatRGBA16Float} {
		assert.Equal(t, f, fromVkFormat(toVkFormat(f)), f.String())
	}
	assert.Equal(t, vk.FormatD32Sfloat, toVkFormat(gpu.FormatD32Float))
	assert.Equal(t, vk.FormatUndefined, toVkFormat(gpu.FormatUndefined))
}

func TestStageAndAccessMasks(t *testing.T) {
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), toVkStages(gpu.StageNone))
	assert.Equal(t,
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit|vk.PipelineStageTransferBit),
		toVkStages(gpu.StageFragmentShader|gpu.StageTransfer))
	assert.Equal(t,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		toVkStages(gpu.StageRayTracingShader|gpu.StageASBuild))

	assert.Equal(t, vk.AccessFlags(0), toVkAccess(gpu.AccessNone))
	assert.Equal(t,
		vk.AccessFlags(vk.AccessShaderReadBit|vk.AccessTransferWriteBit),
		toVkAccess(gpu.AccessShaderRead|gpu.AccessTransferWrite))
}

func TestLayouts(t *testing.T) {
	assert.Equal(t, vk.ImageLayoutUndefined, toVkLayout(gpu.LayoutUndefined))
	assert.Equal(t, vk.ImageLayoutPresentSrc, toVkLayout(gpu.LayoutPresent))
	assert.Equal(t, vk.ImageLayoutGeneral, toVkLayout(gpu.LayoutGeneral))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectOf(gpu.FormatD32Float))
}

func TestBufferUsageFoldsRayTracingInputsIntoStorage(t *testing.T) {
	flags := toVkBufferUsage(gpu.BufferUsageASInput | gpu.BufferUsageVertex)
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit))
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	assert.Zero(t, flags&vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
}

func TestRenderpassKeys(t *testing.T) {
	color := &VulkanImage{desc: gpu.ImageDesc{Format: gpu.FormatRGBA16Float}}
	depth := &VulkanImage{desc: gpu.ImageDesc{Format: gpu.FormatD32Float}}

	key := renderpassKeyFor(gpu.RenderingInfo{
		Color: []gpu.Attachment{{Image: color, Load: gpu.LoadOpClear}},
		Depth: &gpu.Attachment{Image: depth, Load: gpu.LoadOpClear},
	})
	assert.Equal(t, 1, key.colorCount)
	assert.Equal(t, gpu.FormatD32Float, key.depth)

	compat := compatibleKey([]gpu.Format{gpu.FormatRGBA16Float}, gpu.FormatD32Float)
	assert.NotEqual(t, key, compat, "load operations are part of the cache key")
	assert.Equal(t, key.colors, compat.colors)
}

func TestResultErrors(t *testing.T) {
	assert.NoError(t, resultError("op", vk.Success))
	assert.ErrorIs(t, resultError("op", vk.ErrorOutOfDate), core.ErrSwapchainOutOfDate)
	assert.ErrorIs(t, resultError("op", vk.Suboptimal), core.ErrSwapchainSuboptimal)
	assert.True(t, core.IsFatal(resultError("op", vk.ErrorOutOfDeviceMemory)))

	err := resultError("vkCreateDevice", vk.ErrorDeviceLost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VK_ERROR_DEVICE_LOST")
	assert.False(t, core.IsPresentationTransient(err))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))

	in := []string{"a", "b"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, []string{"a", "b"}, in, "input is left untouched")

	assert.Equal(t, "VK_LAYER", cString([]byte("VK_LAYER\x00\x00junk")))
	assert.Equal(t, "full", cString([]byte("full")))
}

func TestLockPoolSerializesQueueCalls(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	var wg sync.WaitGroup
	inside := 0
	maxInside := 0
	var mu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeQueueCall(0, func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.SafeCall(PipelineManagement, func() error { return boom }), boom)
	// unknown families get their own lock lazily
	assert.NoError(t, pool.SafeQueueCall(7, func() error { return nil }))
}

func TestShaderModuleRejectsMalformedCode(t *testing.T) {
	for _, code := range [][]byte{nil, {0x03, 0x02, 0x23}} {
		_, err := NewShaderModule(nil, gpu.ShaderStage{Kind: gpu.ShaderVertex, Name: "gbuffer.vert", Code: code})
		assert.Error(t, err)
	}
	_, err := NewShaderModule(nil, gpu.ShaderStage{Kind: gpu.ShaderRaygen, Name: "shadow.rgen", Code: make([]byte, 8)})
	assert.ErrorIs(t, err, gpu.ErrUnsupported)
}
