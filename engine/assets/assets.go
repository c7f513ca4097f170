package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/ember/engine/assets/loaders"
	"github.com/spaghettifunk/ember/engine/core"
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	Path       string
	Type       loaders.AssetType
	LastLoaded time.Time
}

// AssetChange reports a tracked asset written or removed on disk.
type AssetChange struct {
	Path    string
	Type    loaders.AssetType
	Removed bool
}

type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[loaders.AssetType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan AssetChange
}

func NewAssetManager(root string) *AssetManager {
	return &AssetManager{
		root:    filepath.Clean(root),
		assets:  make(map[string]AssetInfo),
		loaders: make(map[loaders.AssetType]Loader),
		changes: make(chan AssetChange, 32),
		done:    make(chan struct{}),
	}
}

// Initialize indexes every known asset under the root. With watch set, changes are
// reported on Changes until Shutdown.
func (am *AssetManager) Initialize(watch bool) error {
	am.registerLoader(loaders.AssetTypeModel, &loaders.ModelLoader{})
	am.registerLoader(loaders.AssetTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(loaders.AssetTypeImage, &loaders.ImageLoader{})

	if !watch {
		return am.watchRecursive(am.root, false)
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	am.fsnotify = fsWatch
	if err := am.watchRecursive(am.root, false); err != nil {
		fsWatch.Close()
		am.fsnotify = nil
		return err
	}

	am.wg.Add(1)
	go am.start()
	return nil
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	if am.fsnotify == nil {
		return nil
	}
	close(am.done)
	am.wg.Wait()
	return nil
}

// Changes delivers change notifications. The channel is buffered; notifications
// are dropped while it is full.
func (am *AssetManager) Changes() <-chan AssetChange {
	return am.changes
}

func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	return out
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType loaders.AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// LoadAsset loads the asset stored at name, relative to the root.
func (am *AssetManager) LoadAsset(name string) (*loaders.Resource, error) {
	key := filepath.ToSlash(filepath.Clean(name))

	am.mutex.Lock()
	asset, exists := am.assets[key]
	if exists {
		asset.LastLoaded = time.Now()
		am.assets[key] = asset
	}
	am.mutex.Unlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}

	res, err := loader.Load(filepath.Join(am.root, filepath.FromSlash(key)))
	if err != nil {
		return nil, err
	}
	res.Name = key
	return res, nil
}

func (am *AssetManager) UnloadAsset(res *loaders.Resource) error {
	loader, ok := am.loaders[res.Type]
	if !ok {
		return fmt.Errorf("no loader registered for asset type: %s", res.Type)
	}
	return loader.Unload(res)
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name, false); err != nil {
						core.LogWarn("failed to watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if info, ok := am.handleFileEvent(e.Name); ok {
					am.notify(AssetChange{Path: info.Path, Type: info.Type})
				}
			}
			// A deleted path can't be stat'ed, so it may have been a directory.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if info, ok := am.removeAsset(e.Name); ok {
					am.notify(AssetChange{Path: info.Path, Type: info.Type, Removed: true})
				}
				am.fsnotify.Remove(e.Name)
			}

		case e, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", e)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) notify(c AssetChange) {
	select {
	case am.changes <- c:
	default:
		core.LogWarn("asset change dropped: %s", c.Path)
	}
}

// watchRecursive indexes all files under path and, when a watcher is running,
// adds or removes every directory from the watch list.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if am.fsnotify == nil {
				return nil
			}
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

func (am *AssetManager) key(path string) (string, bool) {
	rel, err := filepath.Rel(am.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == loaders.AssetTypeNone {
		return AssetInfo{}, false
	}
	key, ok := am.key(path)
	if !ok {
		return AssetInfo{}, false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()

	info := AssetInfo{
		Path: key,
		Type: assetType,
	}
	if old, ok := am.assets[key]; ok {
		info.LastLoaded = old.LastLoaded
	}
	am.assets[key] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) (AssetInfo, bool) {
	key, ok := am.key(path)
	if !ok {
		return AssetInfo{}, false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()

	info, ok := am.assets[key]
	delete(am.assets, key)
	return info, ok
}

func determineAssetType(path string) loaders.AssetType {
	switch filepath.Ext(path) {
	case ".glb", ".gltf":
		return loaders.AssetTypeModel
	case ".hlsl":
		return loaders.AssetTypeShader
	case ".png", ".jpg", ".jpeg", ".webp":
		return loaders.AssetTypeImage
	default:
		return loaders.AssetTypeNone
	}
}
