package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Fingerprint computes the content fingerprint of a file manifest. The
// (path, sha256) pairs are sorted by path before hashing, so the result
// is invariant under upload-order permutation.
func Fingerprint(files []FileRef) string {
	pairs := make([]FileRef, len(files))
	copy(pairs, files)
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Path < pairs[j].Path })

	h := sha256.New()
	for _, f := range pairs {
		fmt.Fprintf(h, "%s\x00%s\n", f.Path, f.SHA256)
	}
	return hex.EncodeToString(h.Sum(nil))
}
