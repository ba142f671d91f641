package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultSharedRoot = "/mnt/aoi-shared"
	DefaultConfigRoot = "/var/lib/ts-aoi"
)

// ResolveSharedRoot returns the absolute path to the shared mount both the
// client and the server can read.
func ResolveSharedRoot() string {
	root := os.Getenv("AOI_SHARED_ROOT")
	if root == "" {
		root = DefaultSharedRoot
	}
	return root
}

// ResolveConfigRoot returns the absolute path to the server's config tree
// (product ROI configs and golden samples).
func ResolveConfigRoot() string {
	root := os.Getenv("AOI_CONFIG_ROOT")
	if root == "" {
		root = DefaultConfigRoot
	}
	return root
}

// EnsureDirs creates the standard shared-folder subtrees if they don't exist.
func EnsureDirs(sharedRoot string) error {
	subdirs := []string{
		"sessions",
		"golden_samples",
		"temp",
	}

	for _, sub := range subdirs {
		path := filepath.Join(sharedRoot, sub)
		if err := os.MkdirAll(path, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result is within the base
// directory (no traversal).
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path not allowed in element: %s", el)
		}
		for _, part := range strings.Split(filepath.ToSlash(el), "/") {
			if part == ".." {
				return "", fmt.Errorf("path traversal attempt detected: parent reference in element: %s", el)
			}
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}

	return absJoined, nil
}
