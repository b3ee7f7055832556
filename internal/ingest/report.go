package ingest

import (
	"time"

	"github.com/fyrsmithlabs/docrag/internal/change"
)

// Entry is the outcome for one document identity.
type Entry struct {
	Identity string      `json:"identity"`
	Kind     change.Kind `json:"kind"`
	// Segments is the number of segments now indexed for the identity.
	Segments int `json:"segments"`
	// Generation is the document generation after this run.
	Generation int `json:"generation"`
}

// Report summarizes one ingestion call.
type Report struct {
	RunID           string  `json:"run_id"`
	Entries         []Entry `json:"entries"`
	SegmentsAdded   int     `json:"segments_added"`
	SegmentsRemoved int     `json:"segments_removed"`
	// Generation is the storage generation committed by this run, or 0
	// when nothing needed to be written.
	Generation uint64        `json:"generation"`
	Duration   time.Duration `json:"duration"`
}

// Committed reports whether the run wrote a new storage generation.
func (r *Report) Committed() bool {
	return r.Generation != 0
}

// Kinds returns identity -> classification.
func (r *Report) Kinds() map[string]change.Kind {
	out := make(map[string]change.Kind, len(r.Entries))
	for _, e := range r.Entries {
		out[e.Identity] = e.Kind
	}
	return out
}

// Count returns how many entries have the given classification.
func (r *Report) Count(kind change.Kind) int {
	n := 0
	for _, e := range r.Entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
