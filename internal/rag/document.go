package rag

// Origin metadata keys understood by identity derivation.
const (
	MetaFilePath = "file_path"
	MetaFileName = "file_name"
)

// Document is one input fragment handed to ingestion. Several fragments may
// share an identity; they are concatenated in arrival order.
type Document struct {
	// Identity is the stable name of the document. When empty it is derived
	// from Metadata (see change.IdentityOf).
	Identity string

	// Text is the full fragment content.
	Text string

	// Metadata is arbitrary origin metadata (file_path, file_name, ...).
	Metadata map[string]string
}
