package aggregator

import (
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
)

// ArtifactSetHash fingerprints the set of a user's artifact ids. Order and
// duplicates do not matter and content is not consulted, so regenerating an
// existing artifact in place leaves the hash unchanged.
func ArtifactSetHash(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	h := blake3.New()
	var prev string
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		h.Write([]byte(id))
		h.Write([]byte{0})
		prev = id
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
