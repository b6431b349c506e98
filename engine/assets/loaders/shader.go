package loaders

import (
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"
	"github.com/spaghettifunk/anima-gpu/engine/assets"
)

const spirvMagic uint32 = 0x07230203

var ErrInvalidSPIRV = errors.New("invalid SPIR-V module")

// ShaderLoader reads precompiled SPIR-V modules and compiles WGSL sources.
type ShaderLoader struct{}

func (sl *ShaderLoader) Kind() assets.AssetKind {
	return assets.AssetKindShader
}

func (sl *ShaderLoader) Extensions() []string {
	return []string{".spv", ".wgsl"}
}

func (sl *ShaderLoader) Load(path string, data []byte, _ assets.Resolver) (interface{}, error) {
	if strings.EqualFold(filepath.Ext(path), ".wgsl") {
		code, err := naga.Compile(string(data))
		if err != nil {
			return nil, errors.Wrapf(err, "compiling %s", filepath.Base(path))
		}
		data = code
	}
	if err := validateSPIRV(data); err != nil {
		return nil, err
	}
	return &assets.ShaderAsset{Code: data}, nil
}

// validateSPIRV checks the word alignment and the magic number of the header.
func validateSPIRV(code []byte) error {
	if len(code) < 20 || len(code)%4 != 0 {
		return errors.Wrapf(ErrInvalidSPIRV, "length %d", len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return errors.Wrapf(ErrInvalidSPIRV, "magic %#08x", magic)
	}
	return nil
}
