package products

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const pollInterval = 60 * time.Second

// StartWatcher invalidates cached ROI lists when config files change on
// disk, so edits made outside the API (or by another server instance on the
// same mount) are picked up. fsnotify does the fast path; a 60s polling
// purge runs as the fallback for mounts without inotify support.
func (s *Store) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := err != nil
	if err != nil {
		s.log.Warn("fsnotify unavailable, using polling only", zap.Error(err))
	} else if err := watcher.Add(s.productsDir()); err != nil {
		s.log.Warn("cannot watch products dir, using polling only",
			zap.String("dir", s.productsDir()), zap.Error(err))
		watcher.Close()
		usePolling = true
	} else {
		// fsnotify is not recursive; each product directory needs its own
		// watch for config-file writes to be seen.
		if entries, err := os.ReadDir(s.productsDir()); err == nil {
			for _, e := range entries {
				if e.IsDir() {
					_ = watcher.Add(filepath.Join(s.productsDir(), e.Name()))
				}
			}
		}
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
						continue
					}
					if event.Op&fsnotify.Create != 0 {
						if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
							_ = watcher.Add(event.Name)
						}
					}
					name := productFromPath(event.Name)
					if name == "" {
						continue
					}
					s.log.Debug("roi config changed on disk, invalidating",
						zap.String("product", name))
					s.Invalidate(name)
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					s.log.Warn("config watcher error", zap.Error(err))
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.InvalidateAll()
			}
		}
	}()
}

// productFromPath maps a changed path under products/ back to a product
// name. Events for unrelated files (tmp files, metadata) still invalidate
// their product, which is harmless.
func productFromPath(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	if dir == "products" {
		// Direct child of products/: the path itself is the product dir.
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") {
			return ""
		}
		return base
	}
	return dir
}
