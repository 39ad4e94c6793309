package httpadapter

import (
	"context"
	"net/http"
	"time"

	"github.com/josephwmusso/IntraNest/internal/config"
	"github.com/josephwmusso/IntraNest/internal/core/domain"
)

type ingestorFake struct {
	err        error
	lastUpload domain.UploadRequest
	confirms   int
}

func (f *ingestorFake) RequestUpload(_ context.Context, req domain.UploadRequest) (*domain.UploadGrant, error) {
	f.lastUpload = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.UploadGrant{
		DocumentID: "doc-1",
		ObjectKey:  "documents/default/doc-1/notes.txt",
		Credential: domain.UploadCredential{
			URL:     "http://s3.local/bucket/documents/default/doc-1/notes.txt?X-Amz-Signature=abc",
			Method:  http.MethodPut,
			Headers: map[string][]string{"Content-Type": {"text/plain"}},
		},
		ExpiresIn: 10 * time.Minute,
	}, nil
}

func (f *ingestorFake) ConfirmUpload(_ context.Context, documentID, _ string) (*domain.ConfirmResult, error) {
	f.confirms++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ConfirmResult{DocumentID: documentID, Status: domain.StatusProcessing}, nil
}

func (f *ingestorFake) GetStatus(_ context.Context, documentID, userID string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{
		DocumentID: documentID,
		UserID:     userID,
		Filename:   "notes.txt",
		Status:     domain.StatusProcessing,
		Progress:   40,
		Message:    "created 5 chunks",
	}, nil
}

type listerFake struct {
	err       error
	lastLimit int
}

func (f *listerFake) ListDocuments(_ context.Context, userID string, limit int) ([]domain.CatalogEntry, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []domain.CatalogEntry{{DocumentID: "doc-1", UserID: userID, Status: domain.StatusCompleted}}, nil
}

type searcherFake struct {
	err        error
	lastFilter domain.SearchFilter
}

func (f *searcherFake) Search(_ context.Context, query string, _ int, filter domain.SearchFilter) (*domain.SearchResult, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SearchResult{
		Query:   query,
		Results: []domain.RetrievedChunk{{DocumentID: "doc-1", NodeID: "doc-1:0", Content: "hello", Score: 0.9}},
		Total:   1,
	}, nil
}

type routerFixture struct {
	ingestor *ingestorFake
	lister   *listerFake
	searcher *searcherFake
	handler  http.Handler
}

func newRouterFixture(cfg config.Config) *routerFixture {
	f := &routerFixture{
		ingestor: &ingestorFake{},
		lister:   &listerFake{},
		searcher: &searcherFake{},
	}
	f.handler = NewRouter(cfg, Dependencies{
		Ingestor: f.ingestor,
		Lister:   f.lister,
		Searcher: f.searcher,
	}).Handler()
	return f
}
