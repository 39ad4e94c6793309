package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/resilience"
)

var _ ports.VectorIndex = (*Client)(nil)

// pointNamespace derives stable point ids from chunk node ids, so re-inserting a chunk
// overwrites the existing point.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("intranest:chunk"))

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, collection string) *Client {
	return NewWithOptions(baseURL, collection, Options{})
}

func NewWithOptions(baseURL, collection string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

func PointID(nodeID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(nodeID)).String()
}

// InsertChunk upserts one point; the point id is derived from the chunk node id.
func (c *Client) InsertChunk(ctx context.Context, record domain.ChunkRecord) error {
	if len(record.Vector) == 0 {
		return fmt.Errorf("chunk %s has empty vector", record.NodeID)
	}
	if err := c.ensureCollection(ctx, len(record.Vector)); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	body, err := json.Marshal(map[string]any{
		"points": []point{{
			ID:     PointID(record.NodeID),
			Vector: record.Vector,
			Payload: map[string]any{
				"node_id":     record.NodeID,
				"document_id": record.DocumentID,
				"chunk_id":    record.ChunkID,
				"offset":      record.Offset,
				"user_id":     record.UserID,
				"tenant_id":   record.TenantID,
				"filename":    record.Filename,
				"mime_type":   record.MimeType,
				"content":     record.Content,
				"indexed_at":  record.IndexedAt.UTC().Format(time.RFC3339),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.execute(ctx, "qdrant.upsert", func(callCtx context.Context) error {
		resp, err := c.do(callCtx, http.MethodPut, url, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return statusError("upsert", resp)
	})
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	limit int,
	filter domain.SearchFilter,
) ([]domain.RetrievedChunk, error) {
	body, err := json.Marshal(map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
		"filter":       buildFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	err = c.execute(ctx, "qdrant.search", func(callCtx context.Context) error {
		resp, err := c.do(callCtx, http.MethodPost, url, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := statusError("search", resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.RetrievedChunk{
			DocumentID: getStringPayload(r.Payload, "document_id"),
			NodeID:     getStringPayload(r.Payload, "node_id"),
			ChunkID:    getIntPayload(r.Payload, "chunk_id"),
			Filename:   getStringPayload(r.Payload, "filename"),
			Content:    getStringPayload(r.Payload, "content"),
			Score:      r.Score,
		})
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return wrapTemporaryIfNeeded("qdrant ping", err)
	}
	defer resp.Body.Close()
	return wrapTemporaryIfNeeded("qdrant ping", statusError("ping", resp))
}

func buildFilter(filter domain.SearchFilter) map[string]any {
	must := make([]map[string]any, 0, 3)
	for key, value := range map[string]string{
		"user_id":     filter.UserID,
		"tenant_id":   filter.TenantID,
		"document_id": filter.DocumentID,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	return map[string]any{"must": must}
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err = c.execute(ctx, "qdrant.ensure_collection", func(callCtx context.Context) error {
		resp, err := c.do(callCtx, http.MethodPut, url, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		// 409 when the collection already exists.
		if resp.StatusCode == http.StatusConflict {
			return nil
		}
		return statusError("ensure collection", resp)
	})
	if err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create qdrant request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant request: %w", err)
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyQdrantError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
