package models

import "time"

// Item is the stored record the service attaches embeddings to. The id and
// text are owned by the upstream data source; the core only ever writes
// Embedding and UpdatedAt.
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// SearchResult is one ranked hit: smaller distance means closer.
type SearchResult struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

type UpdateStatus string

const (
	UpdateOK     UpdateStatus = "ok"
	UpdateFailed UpdateStatus = "failed"
)

// UpdateResult reports the per-item outcome of a batch embedding update.
type UpdateResult struct {
	ID     string       `json:"id"`
	Status UpdateStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// UpdateItem is one (id, text) pair submitted for embedding.
type UpdateItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}
