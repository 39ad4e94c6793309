package domain

// SearchFilter scopes retrieval to one owner; DocumentID narrows it further when set.
type SearchFilter struct {
	UserID     string
	TenantID   string
	DocumentID string
}

type RetrievedChunk struct {
	DocumentID string  `json:"document_id"`
	NodeID     string  `json:"node_id"`
	ChunkID    int     `json:"chunk_id"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

type SearchResult struct {
	Query   string           `json:"query"`
	Results []RetrievedChunk `json:"results"`
	Total   int              `json:"total"`
}
