package assets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/hybridrt/engine/core"
)

const (
	spirvMagic     uint32 = 0x07230203
	spirvVersion13 uint32 = 0x00010300
	ShaderExt             = ".spv"
)

// EmptyModule returns a SPIR-V module made of its header only. Headless
// runs use it in place of blobs that were never compiled.
func EmptyModule() []byte {
	words := []uint32{spirvMagic, spirvVersion13, 0, 1, 0}
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

type LibraryConfig struct {
	Dir string
	// AllowMissing serves EmptyModule for shaders absent from Dir.
	AllowMissing bool
}

// Library reads compiled shader blobs named <name>.spv from a directory.
// Blobs are read on every Load so a reload always sees the file on disk.
type Library struct {
	dir          string
	allowMissing bool
}

func NewLibrary(config *LibraryConfig) (*Library, error) {
	if config.Dir == "" {
		err := fmt.Errorf("func NewLibrary - shader directory is empty: %w", core.ErrInvalidConfig)
		core.LogError(err.Error())
		return nil, err
	}
	info, err := os.Stat(config.Dir)
	switch {
	case err == nil && !info.IsDir():
		err := fmt.Errorf("func NewLibrary - %s is not a directory: %w", config.Dir, core.ErrInvalidConfig)
		core.LogError(err.Error())
		return nil, err
	case err != nil && !(config.AllowMissing && errors.Is(err, fs.ErrNotExist)):
		err := fmt.Errorf("func NewLibrary - %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &Library{dir: config.Dir, allowMissing: config.AllowMissing}, nil
}

func (l *Library) Dir() string { return l.dir }

func (l *Library) Path(name string) string {
	return filepath.Join(l.dir, name+ShaderExt)
}

// Load returns the blob for name, checking it looks like SPIR-V.
func (l *Library) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(l.Path(name))
	if err != nil {
		if l.allowMissing && errors.Is(err, fs.ErrNotExist) {
			core.LogDebug("shader %s not compiled, using an empty module", name)
			return EmptyModule(), nil
		}
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	if len(data) < 20 || len(data)%4 != 0 || binary.LittleEndian.Uint32(data) != spirvMagic {
		return nil, fmt.Errorf("shader %s: %s is not a SPIR-V module", name, l.Path(name))
	}
	return data, nil
}
