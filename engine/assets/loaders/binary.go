package loaders

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

// BinaryLoader uploads raw files as GPU buffers.
type BinaryLoader struct {
	// Usage of the created buffers, defaults to vertex|index|storage.
	Usage metadata.BufferUsageFlags
}

func (bl *BinaryLoader) Kind() assets.AssetKind {
	return assets.AssetKindBuffer
}

func (bl *BinaryLoader) Extensions() []string {
	return []string{".bin"}
}

func (bl *BinaryLoader) Load(path string, data []byte, _ assets.Resolver) (interface{}, error) {
	if len(data) == 0 {
		return nil, errors.Newf("buffer %s is empty", path)
	}
	usage := bl.Usage
	if usage == 0 {
		usage = metadata.BufferUsageVertex | metadata.BufferUsageIndex | metadata.BufferUsageStorage
	}
	return &assets.BufferAsset{
		Usage: usage | metadata.BufferUsageTransferDst,
		Data:  data,
	}, nil
}
