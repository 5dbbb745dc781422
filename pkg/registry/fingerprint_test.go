package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/skillhub/registry/pkg/registry"
)

func TestFingerprintOrderInvariance(t *testing.T) {
	files := []registry.FileRef{
		{Path: "skill.md", SHA256: "aaa"},
		{Path: "scripts/run.sh", SHA256: "bbb"},
		{Path: "references/api.md", SHA256: "ccc"},
	}
	permuted := []registry.FileRef{files[2], files[0], files[1]}

	assert.Equal(t, registry.Fingerprint(files), registry.Fingerprint(permuted))
}

func TestFingerprintSensitivity(t *testing.T) {
	base := []registry.FileRef{
		{Path: "skill.md", SHA256: "aaa"},
		{Path: "scripts/run.sh", SHA256: "bbb"},
	}

	tests := []struct {
		name  string
		files []registry.FileRef
	}{
		{
			name: "changed content hash",
			files: []registry.FileRef{
				{Path: "skill.md", SHA256: "aaa"},
				{Path: "scripts/run.sh", SHA256: "xxx"},
			},
		},
		{
			name: "renamed file",
			files: []registry.FileRef{
				{Path: "skill.md", SHA256: "aaa"},
				{Path: "scripts/start.sh", SHA256: "bbb"},
			},
		},
		{
			name: "extra file",
			files: []registry.FileRef{
				{Path: "skill.md", SHA256: "aaa"},
				{Path: "scripts/run.sh", SHA256: "bbb"},
				{Path: "extra.md", SHA256: "ddd"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, registry.Fingerprint(base), registry.Fingerprint(tt.files))
		})
	}
}

func TestFingerprintIgnoresSizeAndStorageKey(t *testing.T) {
	a := []registry.FileRef{{Path: "skill.md", SHA256: "aaa", Size: 10, StorageKey: "k1"}}
	b := []registry.FileRef{{Path: "skill.md", SHA256: "aaa", Size: 999, StorageKey: "k2"}}

	// Same bytes staged under a different key are still the same content.
	assert.Equal(t, registry.Fingerprint(a), registry.Fingerprint(b))
}
