package domain

import "time"

// ArtifactRef is an opaque handle to a stored stage output.
type ArtifactRef struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
}

// ArtifactMeta describes a stored artifact. The content itself is kept in the
// artifact store and fetched by ref.
type ArtifactMeta struct {
	Ref       ArtifactRef `json:"ref"`
	SHA256    string      `json:"sha256"`
	Size      int64       `json:"size"`
	CreatedAt time.Time   `json:"created_at"`
}
