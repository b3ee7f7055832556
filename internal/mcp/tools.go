package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/source"
)

const (
	toolQuery  = "rag_query"
	toolIngest = "rag_ingest"
	toolStats  = "rag_stats"
	toolReset  = "rag_reset"
)

type queryInput struct {
	QueryText string `json:"query_text" jsonschema:"The question to answer from the indexed documents"`
}

type sourceOutput struct {
	Source string  `json:"source" jsonschema:"Identity of the document the passage came from"`
	Text   string  `json:"text" jsonschema:"Passage text"`
	Score  float64 `json:"score" jsonschema:"Cosine similarity to the question"`
}

type queryOutput struct {
	Answer  string         `json:"answer" jsonschema:"Synthesized answer"`
	Sources []sourceOutput `json:"sources" jsonschema:"Passages used, in the order given to synthesis"`
}

type ingestInput struct{}

type entryOutput struct {
	Identity string `json:"identity"`
	Kind     string `json:"kind" jsonschema:"NEW, CHANGED or UNCHANGED"`
}

type ingestOutput struct {
	RunID           string        `json:"run_id"`
	Entries         []entryOutput `json:"entries"`
	SegmentsAdded   int           `json:"segments_added"`
	SegmentsRemoved int           `json:"segments_removed"`
	Generation      uint64        `json:"generation" jsonschema:"Committed generation, 0 when nothing changed"`
}

type statsInput struct{}

type documentOutput struct {
	Identity string `json:"identity"`
	Hash     string `json:"hash"`
	Segments int    `json:"segments"`
}

type statsOutput struct {
	Generation uint64           `json:"generation"`
	Segments   int              `json:"segments"`
	Dimension  int              `json:"dimension"`
	Documents  []documentOutput `json:"documents"`
}

type resetInput struct{}

type resetOutput struct {
	Generation uint64 `json:"generation"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolQuery,
		Description: "Answer a question from the indexed documents. Returns the answer and the passages it was built from.",
	}, instrument(s, toolQuery, s.handleQuery))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolIngest,
		Description: "Load the data directory and index new or changed documents. Unchanged documents are skipped.",
	}, instrument(s, toolIngest, s.handleIngest))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolStats,
		Description: "Report the committed generation and the documents currently indexed.",
	}, instrument(s, toolStats, s.handleStats))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolReset,
		Description: "Drop every indexed document. The data directory is left untouched.",
	}, instrument(s, toolReset, s.handleReset))
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, queryOutput, error) {
	text := strings.TrimSpace(in.QueryText)
	if text == "" {
		return nil, queryOutput{}, fmt.Errorf("%w: query_text is required", rag.ErrConfiguration)
	}
	res, err := s.backend.Query(ctx, text)
	if err != nil {
		return nil, queryOutput{}, err
	}
	out := queryOutput{Answer: res.Answer, Sources: make([]sourceOutput, 0, len(res.Sources))}
	for _, src := range res.Sources {
		out.Sources = append(out.Sources, sourceOutput{Source: src.Identity, Text: src.Text, Score: float64(src.Score)})
	}
	return nil, out, nil
}

func (s *Server) handleIngest(ctx context.Context, _ *mcp.CallToolRequest, _ ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
	docs, err := source.LoadDir(ctx, s.config.DataDir, s.config.Source)
	if err != nil && !errors.Is(err, source.ErrInvalidPath) {
		return nil, ingestOutput{}, err
	}
	if len(docs) == 0 {
		return nil, ingestOutput{}, rag.ErrNoDocuments
	}
	report, err := s.backend.Ingest(ctx, docs)
	if err != nil {
		return nil, ingestOutput{}, err
	}
	out := ingestOutput{
		RunID:           report.RunID,
		Entries:         make([]entryOutput, 0, len(report.Entries)),
		SegmentsAdded:   report.SegmentsAdded,
		SegmentsRemoved: report.SegmentsRemoved,
		Generation:      report.Generation,
	}
	for _, e := range report.Entries {
		out.Entries = append(out.Entries, entryOutput{Identity: e.Identity, Kind: e.Kind.String()})
	}
	return nil, out, nil
}

func (s *Server) handleStats(_ context.Context, _ *mcp.CallToolRequest, _ statsInput) (*mcp.CallToolResult, statsOutput, error) {
	st := s.backend.Stats()
	out := statsOutput{
		Generation: st.Generation,
		Segments:   st.Segments,
		Dimension:  st.Dimension,
		Documents:  make([]documentOutput, 0, len(st.Documents)),
	}
	for _, d := range st.Documents {
		out.Documents = append(out.Documents, documentOutput{Identity: d.Identity, Hash: d.Hash, Segments: d.Segments})
	}
	return nil, out, nil
}

func (s *Server) handleReset(ctx context.Context, _ *mcp.CallToolRequest, _ resetInput) (*mcp.CallToolResult, resetOutput, error) {
	if err := s.backend.Reset(ctx); err != nil {
		return nil, resetOutput{}, err
	}
	return nil, resetOutput{Generation: s.backend.Stats().Generation}, nil
}
