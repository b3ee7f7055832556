// Package fingerprint maintains the persistent mapping from document identity
// to the content hash that was last indexed for it.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fyrsmithlabs/docrag/internal/fsutil"
	"github.com/fyrsmithlabs/docrag/internal/rag"
)

// FileName is the registry file name inside a storage generation.
const FileName = "registry.json"

// Record describes the most recently indexed version of one document.
type Record struct {
	// Hash is the hex digest of the document text (see Hash).
	Hash string `json:"hash"`

	// SegmentCount is the number of segments produced for that text.
	SegmentCount int `json:"nodes_count"`

	// LastProcessed is when the text was indexed.
	LastProcessed time.Time `json:"last_processed"`

	// Generation increments every time the identity is (re)indexed.
	// Segments in the index carry the generation that produced them.
	Generation int `json:"generation"`
}

// Registry maps document identity to its Record.
// A nil Registry is a valid empty registry for reads.
type Registry map[string]Record

// Hash returns the fingerprint of a document's full text.
func Hash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the record for identity.
func (r Registry) Lookup(identity string) (Record, bool) {
	rec, ok := r[identity]
	return rec, ok
}

// Clone returns an independent copy. Records are values, so a shallow map
// copy is enough.
func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Identities returns the registered identities in sorted order.
func (r Registry) Identities() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TotalSegments sums SegmentCount over all records.
func (r Registry) TotalSegments() int {
	total := 0
	for _, rec := range r {
		total += rec.SegmentCount
	}
	return total
}

// Encode writes the registry as indented JSON.
func (r Registry) Encode(w io.Writer) error {
	if r == nil {
		r = Registry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Decode reads a registry written by Encode.
func Decode(rd io.Reader) (Registry, error) {
	reg := Registry{}
	if err := json.NewDecoder(rd).Decode(&reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Load reads the registry at path. A missing file yields an empty registry.
func Load(path string) (Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Registry{}, nil
		}
		return nil, fmt.Errorf("%w: opening registry: %v", rag.ErrPersist, err)
	}
	defer f.Close()

	reg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding registry %s: %v", rag.ErrPersist, path, err)
	}
	return reg, nil
}

// Save replaces the registry at path. Either the whole registry is written
// or the previous file is left as it was.
func Save(path string, reg Registry) error {
	if err := fsutil.WriteFile(path, 0600, reg.Encode); err != nil {
		return fmt.Errorf("%w: saving registry: %v", rag.ErrPersist, err)
	}
	return nil
}
