package loaders

import "github.com/google/uuid"

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeModel
	AssetTypeShader
	AssetTypeImage
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeModel:
		return "model"
	case AssetTypeShader:
		return "shader"
	case AssetTypeImage:
		return "image"
	}
	return "none"
}

type Resource struct {
	ID       uuid.UUID
	Name     string
	FullPath string
	Type     AssetType
	DataSize uint64
	Data     interface{}
}
