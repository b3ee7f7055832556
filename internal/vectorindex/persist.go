package vectorindex

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	chromem "github.com/philippgille/chromem-go"
)

const (
	snapshotFormat  = "docrag-vectorindex"
	snapshotVersion = 1
)

// snapshotHeader precedes the chromem stream. It carries the bookkeeping
// chromem does not persist for us.
type snapshotHeader struct {
	Format    string         `json:"format"`
	Version   int            `json:"version"`
	Dimension int            `json:"dimension"`
	NextSeq   int64          `json:"next_seq"`
	Documents map[string]int `json:"documents"`
	Count     int            `json:"count"`
}

// Export writes a snapshot of the index to w: one JSON header line followed
// by the uncompressed chromem gob stream. Compression is left to the caller.
func (ix *Index) Export(w io.Writer) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hdr := snapshotHeader{
		Format:    snapshotFormat,
		Version:   snapshotVersion,
		Dimension: ix.dim,
		NextSeq:   ix.nextSeq,
		Documents: ix.docs,
		Count:     ix.coll.Count(),
	}
	line, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("encoding snapshot header: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	if hdr.Count == 0 {
		return nil
	}
	if err := ix.db.ExportToWriter(w, false, "", collectionName); err != nil {
		return fmt.Errorf("writing snapshot body: %w", err)
	}
	return nil
}

// Import reads a snapshot written by Export.
func Import(r io.Reader, opts ...Option) (*Index, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	var hdr snapshotHeader
	if err := json.Unmarshal(line, &hdr); err != nil {
		return nil, fmt.Errorf("decoding snapshot header: %w", err)
	}
	if hdr.Format != snapshotFormat {
		return nil, fmt.Errorf("unexpected snapshot format %q", hdr.Format)
	}
	if hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}

	db := chromem.NewDB()
	if hdr.Count > 0 {
		payload, err := io.ReadAll(br)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot body: %w", err)
		}
		if err := db.ImportFromReader(bytes.NewReader(payload), "", collectionName); err != nil {
			return nil, fmt.Errorf("decoding snapshot body: %w", err)
		}
	}

	ix, err := newIndex(db, opts)
	if err != nil {
		return nil, err
	}
	if got := ix.coll.Count(); got != hdr.Count {
		return nil, fmt.Errorf("snapshot holds %d entries, header says %d", got, hdr.Count)
	}

	ix.dim = hdr.Dimension
	ix.nextSeq = hdr.NextSeq
	for k, v := range hdr.Documents {
		ix.docs[k] = v
	}
	return ix, nil
}

// Clone returns an independent deep copy of the index.
func (ix *Index) Clone() (*Index, error) {
	var buf bytes.Buffer
	if err := ix.Export(&buf); err != nil {
		return nil, fmt.Errorf("cloning index: %w", err)
	}
	return Import(&buf, ix.options()...)
}
