package loaders

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ShaderLoader reads HLSL source text. Data is the []byte source.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Resource{
		ID:       uuid.New(),
		Name:     filepath.Base(path),
		FullPath: path,
		Type:     AssetTypeShader,
		DataSize: uint64(len(data)),
		Data:     data,
	}, nil
}

func (sl *ShaderLoader) Unload(*Resource) error {
	return nil
}
