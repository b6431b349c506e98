package metadata

import (
	"fmt"
	"hash/fnv"
)

/**
 * @brief A SPIR-V (or backend specific) shader blob.
 */
type ShaderModuleDescription struct {
	/** @brief The compiled shader code. */
	Code []byte
}

func (d *ShaderModuleDescription) HashInto(h *Hasher) {
	h.Bytes(d.Code)
}

/** @brief Content hash of the code alone, used in logs and metrics. */
func (d *ShaderModuleDescription) ContentHash() uint64 {
	f := fnv.New64a()
	f.Write(d.Code)
	return f.Sum64()
}

func (d *ShaderModuleDescription) String() string {
	return fmt.Sprintf("ShaderModule{%d bytes, %016x}", len(d.Code), d.ContentHash())
}

/**
 * @brief One programmable stage of a pipeline. The module is referenced by the
 * structural hash of its description so pipelines key on the shader content.
 */
type ShaderStageDescription struct {
	Stage      ShaderStageFlags
	EntryName  string
	ModuleHash StructuralHash
}

func (d ShaderStageDescription) HashInto(h *Hasher) {
	h.Uint32(uint32(d.Stage)).Text(d.EntryName).Uint64(uint64(d.ModuleHash))
}
