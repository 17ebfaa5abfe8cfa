package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"go.uber.org/zap"
)

// FileCache is a cache persisted as one JSON file, so plans survive restarts.
// Values are stored as T; Set rejects values of any other type.
type FileCache[T any] struct {
	store map[string]fileItem[T]
	mutex sync.Mutex
	ttl   time.Duration
	path  string
	log   *zap.Logger
}

type fileItem[T any] struct {
	Value      T     `json:"value"`
	Expiration int64 `json:"expiration,omitempty"` // zero never expires
}

// NewFileCache opens the cache stored at path. A missing file is an empty
// cache; an unreadable one is an error. Expired items are dropped on load.
func NewFileCache[T any](path string, defaultTTL time.Duration, log *zap.Logger) (*FileCache[T], error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &FileCache[T]{
		store: make(map[string]fileItem[T]),
		ttl:   defaultTTL,
		path:  path,
		log:   log,
	}
	if err := c.loadFromFile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FileCache[T]) loadFromFile() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errbuilder.GenericErr("failed to read cache file", err)
	}
	if err := json.Unmarshal(data, &c.store); err != nil {
		return errbuilder.GenericErr("failed to decode cache file", err)
	}
	c.removeExpired()
	c.log.Debug("persistent cache loaded", zap.String("path", c.path), zap.Int("items", len(c.store)))
	return nil
}

// saveToFile writes the store through a temporary file. Callers hold mutex.
func (c *FileCache[T]) saveToFile() error {
	data, err := json.Marshal(c.store)
	if err != nil {
		return errbuilder.GenericErr("failed to encode cache", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".cache-*")
	if err != nil {
		return errbuilder.GenericErr("failed to write cache file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errbuilder.GenericErr("failed to write cache file", err)
	}
	if err := tmp.Close(); err != nil {
		return errbuilder.GenericErr("failed to write cache file", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return errbuilder.GenericErr("failed to replace cache file", err)
	}
	return nil
}

// Get retrieves an item from the cache.
func (c *FileCache[T]) Get(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	item, found := c.store[key]
	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	if item.Expiration != 0 && time.Now().UnixNano() > item.Expiration {
		c.log.Debug("persistent cache item expired", zap.String("key", key))
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}
	return item.Value, nil
}

// Set adds or updates an item and rewrites the file. Expired items are
// dropped on the way.
func (c *FileCache[T]) Set(ctx context.Context, key string, value interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	v, ok := value.(T)
	if !ok {
		return errbuilder.GenericErr("unsupported value type for persistent cache", nil)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	var expiration int64
	if c.ttl > 0 {
		expiration = time.Now().Add(c.ttl).UnixNano()
	}
	c.store[key] = fileItem[T]{Value: v, Expiration: expiration}
	c.removeExpired()
	if err := c.saveToFile(); err != nil {
		return err
	}
	c.log.Debug("persistent cache item set", zap.String("key", key))
	return nil
}

// Len returns the number of stored items.
func (c *FileCache[T]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.store)
}

func (c *FileCache[T]) removeExpired() {
	now := time.Now().UnixNano()
	for key, item := range c.store {
		if item.Expiration != 0 && now > item.Expiration {
			delete(c.store, key)
		}
	}
}
