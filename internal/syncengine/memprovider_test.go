package syncengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/storage"
)

// memProvider is an in-memory storage.Provider used across the engine tests.
type memProvider struct {
	provider entities.ProviderName

	mu      sync.Mutex
	seq     int
	files   map[string]*memFile
	folders map[string]*memFolder

	uploads int
}

type memFile struct {
	id         string
	parent     string
	name       string
	content    []byte
	modifiedAt time.Time
	hash       string
}

type memFolder struct {
	id     string
	parent string
	name   string
}

var _ storage.Provider = (*memProvider)(nil)

func newMemProvider(provider entities.ProviderName) *memProvider {
	return &memProvider{
		provider: provider,
		files:    make(map[string]*memFile),
		folders:  make(map[string]*memFolder),
	}
}

func (p *memProvider) nextIDLocked() string {
	p.seq++
	return fmt.Sprintf("%s-%d", p.provider, p.seq)
}

func (p *memProvider) addFile(parent, name, content string, modifiedAt time.Time) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextIDLocked()
	p.files[id] = &memFile{
		id: id, parent: parent, name: name,
		content: []byte(content), modifiedAt: modifiedAt,
	}
	return id
}

func (p *memProvider) addFolder(parent, name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextIDLocked()
	p.folders[id] = &memFolder{id: id, parent: parent, name: name}
	return id
}

func (p *memProvider) fileByName(parent, name string) *memFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.files {
		if f.parent == parent && f.name == name {
			return f
		}
	}
	return nil
}

func (p *memProvider) folderByName(parent, name string) *memFolder {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.folders {
		if f.parent == parent && f.name == name {
			return f
		}
	}
	return nil
}

func (p *memProvider) fileCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

func (p *memProvider) Name() entities.ProviderName {
	return p.provider
}

func (p *memProvider) ParseResourceURL(string) (*storage.Resource, error) {
	return nil, fmt.Errorf("%s does not parse URLs in tests", p.provider)
}

func (p *memProvider) GetMetadata(_ context.Context, id string) (*storage.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.files[id]; ok {
		info := f.info()
		return &info, nil
	}
	if f, ok := p.folders[id]; ok {
		return &storage.FileInfo{ID: f.id, Name: f.name, IsDir: true}, nil
	}
	return nil, storage.NewError(storage.KindNotFound, p.provider, "get_metadata", fmt.Errorf("no item %s", id))
}

func (p *memProvider) ListChildren(_ context.Context, folderID string) ([]storage.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var children []storage.FileInfo
	for _, f := range p.folders {
		if f.parent == folderID {
			children = append(children, storage.FileInfo{ID: f.id, Name: f.name, IsDir: true})
		}
	}
	for _, f := range p.files {
		if f.parent == folderID {
			children = append(children, f.info())
		}
	}
	return children, nil
}

func (p *memProvider) Download(_ context.Context, id string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[id]
	if !ok {
		return nil, storage.NewError(storage.KindNotFound, p.provider, "download", fmt.Errorf("no file %s", id))
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

func (p *memProvider) Upload(_ context.Context, opts storage.UploadOptions) (*storage.FileInfo, error) {
	content, err := io.ReadAll(opts.Content)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads++

	for _, f := range p.files {
		if f.parent == opts.DestFolderID && f.name == opts.Name {
			f.content = content
			f.modifiedAt = opts.ModifiedAt
			info := f.info()
			return &info, nil
		}
	}

	id := p.nextIDLocked()
	f := &memFile{
		id: id, parent: opts.DestFolderID, name: opts.Name,
		content: content, modifiedAt: opts.ModifiedAt,
	}
	p.files[id] = f
	info := f.info()
	return &info, nil
}

func (p *memProvider) Copy(_ context.Context, sourceID, destFolderID, newName string) (*storage.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.files[sourceID]
	if !ok {
		return nil, storage.NewError(storage.KindNotFound, p.provider, "copy", fmt.Errorf("no file %s", sourceID))
	}
	id := p.nextIDLocked()
	f := &memFile{
		id: id, parent: destFolderID, name: newName,
		content: append([]byte(nil), src.content...), modifiedAt: src.modifiedAt,
	}
	p.files[id] = f
	info := f.info()
	return &info, nil
}

func (p *memProvider) CreateFolder(_ context.Context, name, parentID string) (*storage.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.folders {
		if f.parent == parentID && f.name == name {
			return &storage.FileInfo{ID: f.id, Name: f.name, IsDir: true}, nil
		}
	}
	id := p.nextIDLocked()
	p.folders[id] = &memFolder{id: id, parent: parentID, name: name}
	return &storage.FileInfo{ID: id, Name: name, IsDir: true}, nil
}

func (f *memFile) info() storage.FileInfo {
	return storage.FileInfo{
		ID:          f.id,
		Name:        f.name,
		Size:        int64(len(f.content)),
		ModifiedAt:  f.modifiedAt,
		ContentHash: f.hash,
	}
}

// memResolver maps provider names to fixed in-memory providers.
type memResolver map[entities.ProviderName]storage.Provider

func (r memResolver) Resolve(_ context.Context, provider entities.ProviderName, _ uint) (storage.Provider, error) {
	p, ok := r[provider]
	if !ok {
		return nil, fmt.Errorf("no provider %s configured", provider)
	}
	return p, nil
}
