// Package session tracks inspection sessions on the shared mount. A session
// owns sessions/<id>/captures/ (client-written frames, deleted at close) and
// sessions/<id>/output/ (server-written results, retained for history).
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/platform/paths"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrCameraNotReady = errors.New("camera not initialized")
)

// SweepAge is how old an abandoned session or temp directory must be before
// the sweeper removes it.
const SweepAge = 24 * time.Hour

// Session is one inspection session's identity and directories. It also
// holds the per-device barcode cache: a resolved barcode is replayed on
// later inspections of the same session when the request names none.
type Session struct {
	ID         string    `json:"session_id"`
	Product    string    `json:"product_name"`
	ClientInfo string    `json:"client_info,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	dir string

	mu       sync.Mutex
	barcodes map[int]string
}

func (s *Session) Dir() string         { return s.dir }
func (s *Session) CapturesDir() string { return filepath.Join(s.dir, "captures") }
func (s *Session) OutputDir() string   { return filepath.Join(s.dir, "output") }

// CacheBarcodes merges the resolved raw barcodes of one inspection into the
// session cache. Empty values are not stored, so an empty override does not
// evict a previously cached entry.
func (s *Session) CacheBarcodes(resolved map[int]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.barcodes == nil {
		s.barcodes = make(map[int]string, len(resolved))
	}
	for id, code := range resolved {
		if code != "" {
			s.barcodes[id] = code
		}
	}
}

// CachedBarcodes returns a copy of the session's barcode cache.
func (s *Session) CachedBarcodes() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.barcodes))
	for id, code := range s.barcodes {
		out[id] = code
	}
	return out
}

// Manager owns the session registry. The camera-ready gate is checked at
// creation: a session against an uninitialized camera would only produce
// unreadable captures.
type Manager struct {
	sharedRoot  string
	cameraReady func() bool
	log         *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(sharedRoot string, cameraReady func() bool, log *zap.Logger) *Manager {
	return &Manager{
		sharedRoot:  sharedRoot,
		cameraReady: cameraReady,
		log:         log,
		sessions:    make(map[string]*Session),
	}
}

// Create registers a new session and builds its directory pair.
func (m *Manager) Create(product, clientInfo string) (*Session, error) {
	if m.cameraReady != nil && !m.cameraReady() {
		return nil, ErrCameraNotReady
	}

	id := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	dir, err := paths.SafeJoin(m.sharedRoot, "sessions", id)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:         id,
		Product:    product,
		ClientInfo: clientInfo,
		CreatedAt:  time.Now(),
		dir:        dir,
	}
	for _, sub := range []string{s.CapturesDir(), s.OutputDir()} {
		if err := os.MkdirAll(sub, 0750); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Info("session created", zap.String("session_id", id), zap.String("product", product))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close removes the session from the registry and deletes its captures.
// Output is kept so results stay inspectable after the fact.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if err := os.RemoveAll(s.CapturesDir()); err != nil {
		m.log.Warn("failed to delete session captures",
			zap.String("session_id", id), zap.Error(err))
	}
	m.log.Info("session closed", zap.String("session_id", id))
	return nil
}

// CloseAll closes every active session; called on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Active reports the number of registered sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes temp entries and unregistered session directories older
// than SweepAge, returning the number of directories removed. Crashed runs
// leave both behind; this is the recovery path.
func (m *Manager) Sweep() int {
	removed := 0
	removed += m.sweepDir(filepath.Join(m.sharedRoot, "temp"), nil)

	m.mu.Lock()
	active := make(map[string]bool, len(m.sessions))
	for id := range m.sessions {
		active[id] = true
	}
	m.mu.Unlock()
	removed += m.sweepDir(filepath.Join(m.sharedRoot, "sessions"), active)

	if removed > 0 {
		m.log.Info("swept stale directories", zap.Int("removed", removed))
	}
	return removed
}

func (m *Manager) sweepDir(dir string, keep map[string]bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-SweepAge)
	removed := 0
	for _, e := range entries {
		if keep[e.Name()] || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			m.log.Warn("failed to remove stale directory", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

// StartSweeper launches the background sweeper: one sweep immediately,
// then hourly until ctx ends. It returns without blocking.
func (m *Manager) StartSweeper(ctx context.Context) {
	go m.sweepLoop(ctx)
}

func (m *Manager) sweepLoop(ctx context.Context) {
	m.Sweep()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
