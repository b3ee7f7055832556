// Package change classifies input documents against the fingerprint registry.
//
// Classification is a pure function of the input documents and a registry
// snapshot. It never touches storage.
package change

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/docrag/internal/fingerprint"
	"github.com/fyrsmithlabs/docrag/internal/rag"
)

// UnknownIdentity is used for fragments that carry no identity at all.
const UnknownIdentity = "unknown"

// Kind is the classification of one document identity.
type Kind int

const (
	// New means the registry has no record for the identity.
	New Kind = iota + 1
	// Changed means the registry hash differs from the current text.
	Changed
	// Unchanged means the registry hash matches the current text.
	Unchanged
)

// String returns the upper-case name used in reports.
func (k Kind) String() string {
	switch k {
	case New:
		return "NEW"
	case Changed:
		return "CHANGED"
	case Unchanged:
		return "UNCHANGED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "NEW":
		*k = New
	case "CHANGED":
		*k = Changed
	case "UNCHANGED":
		*k = Unchanged
	default:
		return fmt.Errorf("unknown change kind %q", text)
	}
	return nil
}

// NeedsIndexing reports whether the document must be (re)segmented and embedded.
func (k Kind) NeedsIndexing() bool {
	return k == New || k == Changed
}

// Group is all fragments sharing one identity, concatenated in arrival order.
type Group struct {
	Identity  string
	Fragments []rag.Document
	// Text is the fragment texts joined by a single space.
	Text string
	// Hash is fingerprint.Hash(Text).
	Hash string
}

// Classification is the outcome for one identity.
type Classification struct {
	Group
	Kind Kind
	// Previous is the registry record the decision was made against.
	// It is the zero Record for New documents.
	Previous fingerprint.Record
}

// IdentityOf derives a document identity: the base name of the file_path
// metadata, then file_name metadata, then the explicit identity.
func IdentityOf(doc rag.Document) string {
	if p := doc.Metadata[rag.MetaFilePath]; p != "" {
		return filepath.Base(p)
	}
	if name := doc.Metadata[rag.MetaFileName]; name != "" {
		return name
	}
	if doc.Identity != "" {
		return doc.Identity
	}
	return UnknownIdentity
}

// GroupDocuments groups fragments by identity. Groups are returned in the
// order their identity was first seen.
func GroupDocuments(docs []rag.Document) []Group {
	index := make(map[string]int, len(docs))
	var groups []Group
	var texts [][]string

	for _, doc := range docs {
		id := IdentityOf(doc)
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, Group{Identity: id})
			texts = append(texts, nil)
		}
		groups[i].Fragments = append(groups[i].Fragments, doc)
		texts[i] = append(texts[i], doc.Text)
	}

	for i := range groups {
		groups[i].Text = strings.Join(texts[i], " ")
		groups[i].Hash = fingerprint.Hash(groups[i].Text)
	}
	return groups
}

// Classify decides New, Changed or Unchanged for every identity in docs.
// The result preserves first-seen identity order.
func Classify(docs []rag.Document, reg fingerprint.Registry) []Classification {
	groups := GroupDocuments(docs)
	out := make([]Classification, len(groups))
	for i, g := range groups {
		c := Classification{Group: g}
		prev, ok := reg.Lookup(g.Identity)
		switch {
		case !ok:
			c.Kind = New
		case prev.Hash != g.Hash:
			c.Kind = Changed
			c.Previous = prev
		default:
			c.Kind = Unchanged
			c.Previous = prev
		}
		out[i] = c
	}
	return out
}

// Kinds flattens classifications into an identity -> Kind map.
func Kinds(cs []Classification) map[string]Kind {
	out := make(map[string]Kind, len(cs))
	for _, c := range cs {
		out[c.Identity] = c.Kind
	}
	return out
}
