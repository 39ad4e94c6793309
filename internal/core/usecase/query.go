package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
	defaultListLimit   = 50
	maxListLimit       = 200
)

type QueryUseCase struct {
	embedder ports.Embedder
	vectorDB ports.VectorIndex
	catalog  ports.DocumentCatalog
}

func NewQueryUseCase(
	embedder ports.Embedder,
	vectorDB ports.VectorIndex,
	catalog ports.DocumentCatalog,
) *QueryUseCase {
	return &QueryUseCase{
		embedder: embedder,
		vectorDB: vectorDB,
		catalog:  catalog,
	}
}

// Search returns the chunks closest to query. Results are always scoped to filter.UserID.
func (uc *QueryUseCase) Search(
	ctx context.Context,
	query string,
	limit int,
	filter domain.SearchFilter,
) (*domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	filter.UserID = strings.TrimSpace(filter.UserID)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query is required"))
	}
	if filter.UserID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("user_id is required"))
	}
	limit = clampLimit(limit, defaultSearchLimit, maxSearchLimit)

	queryVector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := uc.vectorDB.Search(ctx, queryVector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search vector db: %w", err)
	}

	return &domain.SearchResult{
		Query:   query,
		Results: chunks,
		Total:   len(chunks),
	}, nil
}

func (uc *QueryUseCase) ListDocuments(ctx context.Context, userID string, limit int) ([]domain.CatalogEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list documents", errors.New("user_id is required"))
	}
	if uc.catalog == nil {
		return nil, domain.WrapError(domain.ErrTemporary, "list documents", errors.New("document catalog is not configured"))
	}

	entries, err := uc.catalog.ListByUser(ctx, userID, clampLimit(limit, defaultListLimit, maxListLimit))
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return entries, nil
}

func clampLimit(limit, fallback, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
