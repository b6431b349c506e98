package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// uploadTimeoutNs bounds how long an upload may keep the consumer waiting.
const uploadTimeoutNs = 5_000_000_000

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(device *Device, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{IsSignaled: createSignaled}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if err := check(vk.CreateFence(device.LogicalDevice, &fenceCreateInfo, device.Allocator, &pFence), "vkCreateFence"); err != nil {
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Destroy(device *Device) {
	if vf.Handle != nil {
		vk.DestroyFence(device.LogicalDevice, vf.Handle, device.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

func (vf *VulkanFence) Wait(device *Device, timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	result := vk.WaitForFences(device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		return errors.Newf("fence wait timed out after %dns", timeoutNs)
	default:
		return check(result, "vkWaitForFences")
	}
}
