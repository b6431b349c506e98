package vulkan

import (
	vk "github.com/goki/vulkan"
)

// singleUse records one-off transfer commands and submits them synchronously.
type singleUse struct {
	backend *Backend
	handle  vk.CommandBuffer
}

func (b *Backend) beginSingleUse() (*singleUse, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	err := b.locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.AllocateCommandBuffers(b.device.LogicalDevice, &info, buffers), "vkAllocateCommandBuffers")
	})
	if err != nil {
		return nil, err
	}
	cb := &singleUse{backend: b, handle: buffers[0]}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check(vk.BeginCommandBuffer(cb.handle, &beginInfo), "vkBeginCommandBuffer"); err != nil {
		cb.free()
		return nil, err
	}
	return cb, nil
}

func (cb *singleUse) free() {
	b := cb.backend
	_ = b.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(b.device.LogicalDevice, b.commandPool, 1, []vk.CommandBuffer{cb.handle})
		return nil
	})
	cb.handle = nil
}

// submit ends recording, submits to the graphics queue and waits on a fence
// for completion. The command buffer is freed either way.
func (cb *singleUse) submit() error {
	b := cb.backend
	defer cb.free()

	if err := check(vk.EndCommandBuffer(cb.handle), "vkEndCommandBuffer"); err != nil {
		return err
	}

	fence, err := NewFence(b.device, false)
	if err != nil {
		return err
	}
	defer fence.Destroy(b.device)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.handle},
	}
	err = b.locks.SafeQueueCall(b.device.GraphicsQueueIndex, func() error {
		return check(vk.QueueSubmit(b.device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle), "vkQueueSubmit")
	})
	if err != nil {
		return err
	}
	return fence.Wait(b.device, uploadTimeoutNs)
}

// transition records a full-image layout transition for an upload.
func (cb *singleUse) transition(image vk.Image, aspect vk.ImageAspectFlags, levels, layers uint32, from, to vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: levels,
			LayerCount: layers,
		},
	}

	var srcStage, dstStage vk.PipelineStageFlags
	if from == vk.ImageLayoutUndefined {
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	} else {
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	}

	vk.CmdPipelineBarrier(cb.handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}
