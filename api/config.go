// Package api provides the HTTP surface over the ingestion and query
// pipelines: document upload and lifecycle, caller-supplied chunk embedding,
// and question answering.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// BlobDir overrides where raw uploads are persisted. Empty means the
	// default .companion/ resolution.
	BlobDir string

	// MaxUploadBytes bounds one uploaded file. Zero means DefaultMaxUploadBytes.
	MaxUploadBytes int
}

// DefaultMaxUploadBytes bounds uploads to 50 MiB.
const DefaultMaxUploadBytes = 50 << 20
