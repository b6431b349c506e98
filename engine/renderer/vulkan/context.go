package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// Device is the part of an application's Vulkan context the backend needs.
// The application creates and destroys it; the backend only borrows it.
type Device struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device
	GraphicsQueue  vk.Queue
	// Queue family of GraphicsQueue, used for the upload command pool.
	GraphicsQueueIndex uint32
	Allocator          *vk.AllocationCallbacks
}

func (d *Device) validate() error {
	if d == nil || d.LogicalDevice == nil || d.PhysicalDevice == nil || d.GraphicsQueue == nil {
		return errors.New("vulkan backend needs a physical device, a logical device and a graphics queue")
	}
	return nil
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every property in propertyFlags.
func (d *Device) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	return 0, errors.Newf("no memory type matches filter %b with properties %b", typeFilter, propertyFlags)
}

// allocate allocates and returns memory satisfying requirements.
func (d *Device) allocate(requirements vk.MemoryRequirements, properties vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	requirements.Deref()
	index, err := d.FindMemoryIndex(requirements.MemoryTypeBits, properties)
	if err != nil {
		return nil, err
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: index,
	}
	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.LogicalDevice, &info, d.Allocator, &memory), "vkAllocateMemory"); err != nil {
		return nil, err
	}
	return memory, nil
}
