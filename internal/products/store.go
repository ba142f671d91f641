// Package products persists product definitions and their ROI
// configurations, one directory per product with a flat JSON config file.
// Reads go through an LRU cache invalidated by a file watcher.
package products

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/platform/paths"
	"github.com/technosupport/ts-aoi/internal/roi"
)

var (
	ErrNotFound    = errors.New("product not found")
	ErrExists      = errors.New("product already exists")
	ErrInvalidName = errors.New("invalid product name")
)

const (
	metaFile     = "product.json"
	roiCacheSize = 64
)

// ValidationError aggregates every violated rule across a batch save, so a
// client sees all problems in one response.
type ValidationError struct {
	ROIs []*roi.ValidationErrors
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.ROIs))
	for _, v := range e.ROIs {
		msgs = append(msgs, v.Error())
	}
	return "invalid rois: " + strings.Join(msgs, " | ")
}

// Product is the stored product metadata.
type Product struct {
	Name        string    `json:"product_name"`
	Description string    `json:"description,omitempty"`
	DeviceCount int       `json:"device_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store reads and writes product directories under <configRoot>/products/.
type Store struct {
	configRoot string
	log        *zap.Logger

	// writeMu serializes config writes; reads are served from the cache
	// or straight from disk.
	writeMu sync.Mutex
	cache   *lru.Cache[string, []roi.ROI]
}

func NewStore(configRoot string, log *zap.Logger) *Store {
	cache, _ := lru.New[string, []roi.ROI](roiCacheSize)
	return &Store{configRoot: configRoot, log: log, cache: cache}
}

func (s *Store) productsDir() string {
	return filepath.Join(s.configRoot, "products")
}

func (s *Store) dir(name string) (string, error) {
	return paths.SafeJoin(s.configRoot, "products", name)
}

func (s *Store) roisPath(name string) (string, error) {
	return paths.SafeJoin(s.configRoot, "products", name, fmt.Sprintf("rois_config_%s.json", name))
}

// List returns all products sorted by name. Directories without metadata
// (hand-created) still appear, with the directory name as the product name.
func (s *Store) List() ([]Product, error) {
	entries, err := os.ReadDir(s.productsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var products []Product
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := Product{Name: e.Name()}
		if data, err := os.ReadFile(filepath.Join(s.productsDir(), e.Name(), metaFile)); err == nil {
			if err := json.Unmarshal(data, &p); err != nil {
				s.log.Warn("unreadable product metadata", zap.String("product", e.Name()), zap.Error(err))
				p = Product{Name: e.Name()}
			}
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

// Create makes a new product with an empty ROI list. A product without ROIs
// is a valid, inspectable-later state.
func (s *Store) Create(name, description string, deviceCount int) (Product, error) {
	dir, err := s.dir(name)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %s", ErrInvalidName, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := os.Stat(dir); err == nil {
		return Product{}, ErrExists
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return Product{}, fmt.Errorf("create product dir: %w", err)
	}

	p := Product{
		Name:        name,
		Description: description,
		DeviceCount: deviceCount,
		CreatedAt:   time.Now().UTC(),
	}
	meta, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return Product{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), meta, 0640); err != nil {
		return Product{}, fmt.Errorf("write product metadata: %w", err)
	}

	roisPath, err := s.roisPath(name)
	if err != nil {
		return Product{}, err
	}
	if err := os.WriteFile(roisPath, []byte("[]\n"), 0640); err != nil {
		return Product{}, fmt.Errorf("write roi config: %w", err)
	}
	return p, nil
}

// Get loads one product's metadata.
func (s *Store) Get(name string) (Product, error) {
	dir, err := s.dir(name)
	if err != nil {
		return Product{}, ErrNotFound
	}
	if _, err := os.Stat(dir); err != nil {
		return Product{}, ErrNotFound
	}
	p := Product{Name: name}
	if data, err := os.ReadFile(filepath.Join(dir, metaFile)); err == nil {
		_ = json.Unmarshal(data, &p)
	}
	return p, nil
}

// GetROIs loads the product's ROI list, accepting both the legacy array and
// the object forms on disk.
func (s *Store) GetROIs(name string) ([]roi.ROI, error) {
	if rois, ok := s.cache.Get(name); ok {
		return rois, nil
	}

	path, err := s.roisPath(name)
	if err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// The product may exist with no config written yet.
			if _, statErr := s.Get(name); statErr != nil {
				return nil, ErrNotFound
			}
			return nil, nil
		}
		return nil, err
	}

	rois, err := roi.NormalizeAll(data)
	if err != nil {
		return nil, fmt.Errorf("parse roi config for %s: %w", name, err)
	}
	s.cache.Add(name, rois)
	return rois, nil
}

// SaveROIs validates and persists the list, always writing the modern
// object form regardless of what was submitted.
func (s *Store) SaveROIs(name string, rois []roi.ROI) error {
	if _, err := s.Get(name); err != nil {
		return err
	}
	if verrs := roi.ValidateAll(rois); len(verrs) > 0 {
		return &ValidationError{ROIs: verrs}
	}

	path, err := s.roisPath(name)
	if err != nil {
		return err
	}

	serialized := make([]roi.ServerROI, 0, len(rois))
	for _, r := range rois {
		serialized = append(serialized, roi.ToServer(r))
	}
	data, err := json.MarshalIndent(serialized, "", "  ")
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Write-then-rename keeps a crash from truncating the config.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write roi config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace roi config: %w", err)
	}

	s.cache.Remove(name)
	return nil
}

// Invalidate drops a product's cached ROI list; the watcher calls this when
// the config file changes on disk.
func (s *Store) Invalidate(name string) {
	s.cache.Remove(name)
}

// InvalidateAll drops the whole cache.
func (s *Store) InvalidateAll() {
	s.cache.Purge()
}
