// Package golden owns the per-(product, ROI) reference image sets used by
// the compare detector. Each ROI directory holds at most one
// best_golden.jpg plus timestamped backups of former bests.
package golden

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/platform/paths"
)

const (
	// BestName is the current reference; the invariant is at most one
	// file with this exact name per ROI directory.
	BestName = "best_golden.jpg"

	backupSuffix = "_golden_sample.jpg"
)

// Store manages golden sample directories under
// <configRoot>/products/<product>/golden_rois/roi_<id>/.
type Store struct {
	configRoot string
	log        *zap.Logger

	// promoteMu totally orders promotions. The dispatcher runs ROI
	// detectors in parallel; without this, two simultaneous promotions
	// for the same ROI can leave two bests or lose a backup.
	promoteMu sync.Mutex
}

func NewStore(configRoot string, log *zap.Logger) *Store {
	return &Store{configRoot: configRoot, log: log}
}

// Dir resolves the golden directory for one ROI, rejecting traversal in the
// product name.
func (s *Store) Dir(product string, roiID int) (string, error) {
	return paths.SafeJoin(s.configRoot, "products", product, "golden_rois", fmt.Sprintf("roi_%d", roiID))
}

// List returns the golden set with best_golden.jpg first (when present),
// then the remaining .jpg files in filename order. A missing directory is
// an empty set, not an error.
func (s *Store) List(product string, roiID int) ([]string, error) {
	dir, err := s.Dir(product, roiID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var best string
	var rest []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		if e.Name() == BestName {
			best = filepath.Join(dir, e.Name())
			continue
		}
		rest = append(rest, filepath.Join(dir, e.Name()))
	}
	sort.Strings(rest)

	if best == "" {
		return rest, nil
	}
	return append([]string{best}, rest...), nil
}

// SaveInitial writes img as the ROI's best golden, preserving any prior
// best as original_<unix_s>.jpg.
func (s *Store) SaveInitial(product string, roiID int, img image.Image) (string, error) {
	dir, err := s.Dir(product, roiID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create golden dir: %w", err)
	}

	s.promoteMu.Lock()
	defer s.promoteMu.Unlock()

	best := filepath.Join(dir, BestName)
	if _, err := os.Stat(best); err == nil {
		archived := filepath.Join(dir, fmt.Sprintf("original_%d.jpg", time.Now().Unix()))
		if err := os.Rename(best, archived); err != nil {
			return "", fmt.Errorf("archive previous best: %w", err)
		}
		s.log.Info("archived previous best golden",
			zap.String("product", product), zap.Int("roi_id", roiID), zap.String("archived", archived))
	}

	if err := imaging.SaveJPEG(best, img); err != nil {
		return "", fmt.Errorf("write best golden: %w", err)
	}
	return best, nil
}

// Promote atomically makes candidatePath the new best golden:
//  1. the current best is renamed to <unix_ms>_golden_sample.jpg,
//  2. the candidate is renamed to best_golden.jpg.
//
// If step 2 fails the archived best is restored, so at every observable
// moment the directory holds at most one best_golden.jpg.
func (s *Store) Promote(product string, roiID int, candidatePath string) error {
	dir, err := s.Dir(product, roiID)
	if err != nil {
		return err
	}
	if filepath.Dir(candidatePath) != dir {
		return fmt.Errorf("candidate %s is not in golden dir %s", candidatePath, dir)
	}

	s.promoteMu.Lock()
	defer s.promoteMu.Unlock()

	best := filepath.Join(dir, BestName)

	var archived string
	if _, err := os.Stat(best); err == nil {
		archived = filepath.Join(dir, backupName(dir, time.Now().UnixMilli()))
		if err := os.Rename(best, archived); err != nil {
			return fmt.Errorf("archive current best: %w", err)
		}
	}

	if err := os.Rename(candidatePath, best); err != nil {
		if archived != "" {
			if restoreErr := os.Rename(archived, best); restoreErr != nil {
				s.log.Error("failed to restore best golden after promotion failure",
					zap.String("archived", archived), zap.Error(restoreErr))
			}
		}
		return fmt.Errorf("promote candidate: %w", err)
	}

	s.log.Info("promoted golden sample",
		zap.String("product", product), zap.Int("roi_id", roiID),
		zap.String("candidate", filepath.Base(candidatePath)))
	return nil
}

// backupName picks a millisecond-stamped name that does not collide with an
// existing backup; promotions serialized within the same millisecond bump
// the stamp.
func backupName(dir string, ms int64) string {
	for {
		name := fmt.Sprintf("%d%s", ms, backupSuffix)
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			return name
		}
		ms++
	}
}
