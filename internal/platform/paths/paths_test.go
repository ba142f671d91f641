package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoots(t *testing.T) {
	os.Unsetenv("AOI_SHARED_ROOT")
	os.Unsetenv("AOI_CONFIG_ROOT")
	assert.Equal(t, DefaultSharedRoot, ResolveSharedRoot())
	assert.Equal(t, DefaultConfigRoot, ResolveConfigRoot())

	os.Setenv("AOI_SHARED_ROOT", "/srv/aoi")
	os.Setenv("AOI_CONFIG_ROOT", "/etc/aoi")
	defer os.Unsetenv("AOI_SHARED_ROOT")
	defer os.Unsetenv("AOI_CONFIG_ROOT")
	assert.Equal(t, "/srv/aoi", ResolveSharedRoot())
	assert.Equal(t, "/etc/aoi", ResolveConfigRoot())
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"sessions", "abc", "captures", "group_305_1200.jpg"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"sessions", "..", "..", "secrets"}, false},
		{"embedded_parent", []string{"sessions/../../etc/passwd"}, false},
		{"absolute", []string{"/etc/passwd"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else {
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), "traversal")
				}
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	tmpRoot := t.TempDir()

	err := EnsureDirs(tmpRoot)
	assert.NoError(t, err)

	subdirs := []string{"sessions", "golden_samples", "temp"}
	for _, sub := range subdirs {
		_, err := os.Stat(filepath.Join(tmpRoot, sub))
		assert.NoError(t, err, "subdirectory %s should exist", sub)
	}
}
