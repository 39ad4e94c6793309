package chunking

import "github.com/josephwmusso/IntraNest/internal/core/domain"

const DefaultChunkSize = 1000

// Splitter cuts text into fixed rune windows. Consecutive windows start ChunkSize-Overlap
// runes apart, so the union of all windows covers the input without gaps.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split is pure: the same text and settings always yield the same chunks and node ids.
func (s *Splitter) Split(source domain.ChunkSource, text string) []domain.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	size, step := s.window()

	out := make([]domain.Chunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		chunkID := len(out)
		out = append(out, domain.Chunk{
			Content:    string(runes[start:end]),
			ChunkID:    chunkID,
			NodeID:     domain.NodeID(source.DocumentID, chunkID),
			Offset:     start,
			DocumentID: source.DocumentID,
			UserID:     source.UserID,
			TenantID:   source.TenantID,
			Filename:   source.Filename,
		})
		if end == len(runes) {
			break
		}
	}
	return out
}

// window returns the effective chunk size and stride. A Splitter built without
// NewSplitter may carry a zero size or an overlap that would stall the stride.
func (s *Splitter) window() (size, step int) {
	size = s.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	step = size - s.Overlap
	if s.Overlap < 0 || step <= 0 {
		step = size
	}
	return size, step
}
