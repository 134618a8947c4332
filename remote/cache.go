package remote

import "sync"

type folderKey struct {
	name     string
	parentID string
}

// FolderCache remembers (name, parent) -> folder id for the lifetime of one Client.
// Entries are never evicted or invalidated: a run does not rename or delete folders.
type FolderCache struct {
	mu      sync.RWMutex
	folders map[folderKey]string
}

func NewFolderCache() *FolderCache {
	return &FolderCache{folders: make(map[folderKey]string)}
}

func (c *FolderCache) Get(name, parentID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.folders[folderKey{name, parentID}]
	return id, ok
}

func (c *FolderCache) Put(name, parentID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.folders[folderKey{name, parentID}] = id
}

func (c *FolderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.folders)
}
