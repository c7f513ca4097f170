package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/ember/engine/assets/loaders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestDetermineAssetType(t *testing.T) {
	assert.Equal(t, loaders.AssetTypeModel, determineAssetType("models/Field.glb"))
	assert.Equal(t, loaders.AssetTypeModel, determineAssetType("models/Field.gltf"))
	assert.Equal(t, loaders.AssetTypeShader, determineAssetType("shaders/shaderVS.hlsl"))
	assert.Equal(t, loaders.AssetTypeImage, determineAssetType("textures/a.webp"))
	assert.Equal(t, loaders.AssetTypeNone, determineAssetType("README.md"))
}

func TestLoadShaderAsset(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shaders", "shaderVS.hlsl"), []byte("float4 main() : SV_POSITION { return 0; }"))
	writeFile(t, filepath.Join(root, "notes.txt"), []byte("ignored"))

	am := NewAssetManager(root)
	require.NoError(t, am.Initialize(false))
	defer am.Shutdown()

	assert.Len(t, am.Assets(), 1)

	res, err := am.LoadAsset("shaders/shaderVS.hlsl")
	require.NoError(t, err)
	assert.Equal(t, loaders.AssetTypeShader, res.Type)
	assert.Equal(t, "shaders/shaderVS.hlsl", res.Name)
	assert.Contains(t, string(res.Data.([]byte)), "SV_POSITION")

	_, err = am.LoadAsset("notes.txt")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestLoadImageAsset(t *testing.T) {
	root := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{B: 255, A: 255})
	path := filepath.Join(root, "textures", "two.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	am := NewAssetManager(root)
	require.NoError(t, am.Initialize(false))

	res, err := am.LoadAsset("textures/two.png")
	require.NoError(t, err)
	rgba := res.Data.(*image.NRGBA)
	assert.Equal(t, 8, rgba.Stride)
	assert.Equal(t, []byte{255, 0, 0, 255, 0, 0, 255, 255}, rgba.Pix)
}

func TestWatchReportsChanges(t *testing.T) {
	root := t.TempDir()
	shader := filepath.Join(root, "shaders", "shaderOpaquePS.hlsl")
	writeFile(t, shader, []byte("// v1"))

	am := NewAssetManager(root)
	require.NoError(t, am.Initialize(true))
	defer am.Shutdown()

	require.NoError(t, os.WriteFile(shader, []byte("// v2"), 0o644))

	select {
	case c := <-am.Changes():
		assert.Equal(t, "shaders/shaderOpaquePS.hlsl", c.Path)
		assert.Equal(t, loaders.AssetTypeShader, c.Type)
		assert.False(t, c.Removed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}
