package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/logging"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/source"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Generation uint64 `json:"generation"`
	Segments   int    `json:"segments"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// UploadResponse is the response body for POST /api/v1/upload_file.
type UploadResponse struct {
	UploadFiles []string `json:"upload_files"`
}

// DeleteResponse is the response body for DELETE /api/v1/delete_files.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) handleHealth(c echo.Context) error {
	st := s.backend.Stats()
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Generation: st.Generation, Segments: st.Segments})
}

// handleQuery loads the data directory, ingests what changed and answers
// the question. query_text is the primary parameter; q is accepted too.
func (s *Server) handleQuery(c echo.Context) error {
	text := strings.TrimSpace(c.QueryParam("query_text"))
	if text == "" {
		text = strings.TrimSpace(c.QueryParam("q"))
	}
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query_text is required")
	}

	ctx := c.Request().Context()
	docs, err := s.loadDocuments(ctx)
	if err != nil {
		return err
	}
	res, report, err := s.backend.IngestAndQuery(ctx, docs, text)
	if err != nil {
		return err
	}
	if report != nil && report.Committed() {
		s.logger.Info(ctx, "index updated before query",
			zap.String("run_id", report.RunID),
			zap.Uint64("generation", report.Generation))
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleIngest(c echo.Context) error {
	ctx := c.Request().Context()
	docs, err := s.loadDocuments(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return rag.ErrNoDocuments
	}
	report, err := s.backend.Ingest(ctx, docs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.backend.Stats())
}

func (s *Server) handleResetIndex(c echo.Context) error {
	if err := s.backend.Reset(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleUpload stores every part of the "files" field in the data
// directory. Uploading a name that already exists fails the request;
// files saved before the failure are kept.
func (s *Server) handleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected multipart form with files")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "files field is required")
	}

	saved := make([]string, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("opening upload %s: %w", fh.Filename, err)
		}
		_, err = source.Save(s.config.DataDir, fh.Filename, f, s.config.Source.MaxFileSize)
		f.Close()
		switch {
		case errors.Is(err, source.ErrExists):
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("File %s already exists", fh.Filename))
		case errors.Is(err, source.ErrTooLarge):
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("File %s is too large", fh.Filename))
		case errors.Is(err, source.ErrInvalidName):
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid file name %q", fh.Filename))
		case err != nil:
			return err
		}
		saved = append(saved, fh.Filename)
	}
	s.logger.Info(c.Request().Context(), "files uploaded", zap.Strings("files", saved))
	return c.JSON(http.StatusOK, UploadResponse{UploadFiles: saved})
}

// handleDeleteFiles empties the data directory and resets the index.
func (s *Server) handleDeleteFiles(c echo.Context) error {
	n, err := source.Clear(s.config.DataDir)
	if err != nil {
		return err
	}
	if err := s.backend.Reset(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: n})
}

// loadDocuments treats a missing data directory as an empty one.
func (s *Server) loadDocuments(ctx context.Context) ([]rag.Document, error) {
	docs, err := source.LoadDir(ctx, s.config.DataDir, s.config.Source)
	if errors.Is(err, source.ErrInvalidPath) {
		return nil, nil
	}
	return docs, err
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, rag.ErrNoDocuments):
		return http.StatusNotFound, "No documents found"
	case errors.Is(err, rag.ErrNoCandidates):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, rag.ErrConfiguration):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, rag.ErrEmbedding), errors.Is(err, rag.ErrSynthesis):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()

		var (
			code   int
			detail string
		)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			detail = fmt.Sprint(he.Message)
		} else {
			code, detail = statusFor(err)
		}

		if code >= http.StatusInternalServerError {
			logger.Error(ctx, "request failed", zap.Int("status", code), zap.Error(err))
		} else {
			logger.Debug(ctx, "request rejected", zap.Int("status", code), zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, ErrorResponse{Detail: detail})
	}
}
