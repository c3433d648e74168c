package usecase

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

const (
	DefaultListLimit   = 10
	MaxListLimit       = 100
	DefaultSearchLimit = 5
	MaxSearchLimit     = 50
)

type DocumentUseCase struct {
	repo     interfaces.Repository
	embedder interfaces.Embedder
}

func NewDocumentUseCase(repo interfaces.Repository, embedder interfaces.Embedder) *DocumentUseCase {
	return &DocumentUseCase{
		repo:     repo,
		embedder: embedder,
	}
}

// DocumentDetail is a document with its ordered instructions
type DocumentDetail struct {
	Document     *model.Document      `json:"document"`
	Instructions []*model.Instruction `json:"instructions"`
}

// SearchInput is a similarity query. Zero Type and Limit take defaults.
type SearchInput struct {
	Query string
	Type  model.SearchType
	Limit int
}

// SearchResult holds hits of the searched type only
type SearchResult struct {
	Type         model.SearchType           `json:"search_type"`
	Documents    []*model.ScoredDocument    `json:"documents,omitempty"`
	Instructions []*model.ScoredInstruction `json:"instructions,omitempty"`
}

// Count is the number of hits
func (r *SearchResult) Count() int {
	return len(r.Documents) + len(r.Instructions)
}

// List returns documents newest first. limit 0 means the default.
func (uc *DocumentUseCase) List(ctx context.Context, limit, offset int) ([]*model.Document, error) {
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 1 || limit > MaxListLimit {
		return nil, goerr.Wrap(model.ErrValidation, "limit out of range", goerr.V(LimitKey, limit))
	}
	if offset < 0 {
		return nil, goerr.Wrap(model.ErrValidation, "offset must not be negative", goerr.V("offset", offset))
	}

	docs, err := uc.repo.Document().ListDocuments(ctx, limit, offset)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list documents")
	}
	return docs, nil
}

func (uc *DocumentUseCase) Get(ctx context.Context, id model.DocumentID) (*DocumentDetail, error) {
	if err := validateDocumentID(id); err != nil {
		return nil, err
	}

	docs := uc.repo.Document()
	doc, err := docs.GetDocument(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document", goerr.V(model.DocumentIDKey, id))
	}
	if doc == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "document not found", goerr.V(model.DocumentIDKey, id))
	}

	instructions, err := docs.GetDocumentInstructions(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get instructions", goerr.V(model.DocumentIDKey, id))
	}
	return &DocumentDetail{Document: doc, Instructions: instructions}, nil
}

// Search embeds the query with the ingestion embedder and ranks by cosine similarity
func (uc *DocumentUseCase) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	if uc.embedder == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "embedder is not configured")
	}

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, goerr.Wrap(model.ErrValidation, "query is required")
	}
	if in.Type == "" {
		in.Type = model.SearchDocuments
	}
	if err := in.Type.Validate(); err != nil {
		return nil, err
	}
	if in.Limit == 0 {
		in.Limit = DefaultSearchLimit
	}
	if in.Limit < 1 || in.Limit > MaxSearchLimit {
		return nil, goerr.Wrap(model.ErrValidation, "limit out of range", goerr.V(LimitKey, in.Limit))
	}

	vectors, err := uc.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V(QueryKey, query))
	}
	if len(vectors) != 1 {
		return nil, goerr.Wrap(model.ErrValidation, "embedder returned no vector", goerr.V(QueryKey, query))
	}

	result := &SearchResult{Type: in.Type}
	docs := uc.repo.Document()
	switch in.Type {
	case model.SearchDocuments:
		result.Documents, err = docs.SearchDocuments(ctx, vectors[0], in.Limit)
	case model.SearchInstructions:
		result.Instructions, err = docs.SearchInstructions(ctx, vectors[0], in.Limit)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search", goerr.V(QueryKey, query), goerr.V("search_type", in.Type))
	}
	return result, nil
}

// Delete removes the document and its instructions. The store reports an
// absent document as a false result rather than an error; Delete turns that
// into model.ErrNotFound, which the HTTP layer answers with 404. Malformed ids
// fail with model.ErrValidation before the store is touched.
func (uc *DocumentUseCase) Delete(ctx context.Context, id model.DocumentID) error {
	if err := validateDocumentID(id); err != nil {
		return err
	}

	deleted, err := uc.repo.Document().DeleteDocument(ctx, id)
	if err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V(model.DocumentIDKey, id))
	}
	if !deleted {
		return goerr.Wrap(model.ErrNotFound, "document not found", goerr.V(model.DocumentIDKey, id))
	}
	return nil
}

func validateDocumentID(id model.DocumentID) error {
	if _, err := uuid.Parse(string(id)); err != nil {
		return goerr.Wrap(model.ErrValidation, "malformed document id", goerr.V(model.DocumentIDKey, id))
	}
	return nil
}
