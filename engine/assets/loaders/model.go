package loaders

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/qmuntal/gltf"
)

// ModelLoader decodes .glb and .gltf files. Data is a *gltf.Document with every buffer
// loaded.
type ModelLoader struct{}

func (ml *ModelLoader) Load(path string) (*Resource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}
	for i, b := range doc.Buffers {
		if int(b.ByteLength) > len(b.Data) {
			return nil, fmt.Errorf("model %s: buffer %d holds %d of %d bytes", path, i, len(b.Data), b.ByteLength)
		}
	}
	return &Resource{
		ID:       uuid.New(),
		Name:     filepath.Base(path),
		FullPath: path,
		Type:     AssetTypeModel,
		DataSize: uint64(info.Size()),
		Data:     doc,
	}, nil
}

func (ml *ModelLoader) Unload(*Resource) error {
	return nil
}
