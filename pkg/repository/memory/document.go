package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

type storedDocument struct {
	doc      *model.Document
	inserted int64
}

type documentRepository struct {
	mu           sync.RWMutex
	documents    map[model.DocumentID]*storedDocument
	byFilename   map[string]model.DocumentID
	instructions map[model.DocumentID][]*model.Instruction
	inserted     int64

	// instructionFault < 0 disables fault injection
	instructionFault int
}

func newDocumentRepository() *documentRepository {
	return &documentRepository{
		documents:        make(map[model.DocumentID]*storedDocument),
		byFilename:       make(map[string]model.DocumentID),
		instructions:     make(map[model.DocumentID][]*model.Instruction),
		instructionFault: -1,
	}
}

func copyEmbedding(v []float32) []float32 {
	if v == nil {
		return nil
	}
	copied := make([]float32, len(v))
	copy(copied, v)
	return copied
}

// copyDocument creates a deep copy of a document
func copyDocument(d *model.Document) *model.Document {
	copied := *d
	copied.Embedding = copyEmbedding(d.Embedding)
	return &copied
}

func copyInstruction(i *model.Instruction) *model.Instruction {
	copied := *i
	copied.Embedding = copyEmbedding(i.Embedding)
	return &copied
}

func (r *documentRepository) StoreDocument(ctx context.Context, doc *model.Document, instructions []*model.Instruction) (model.DocumentID, error) {
	if doc == nil {
		return "", goerr.Wrap(model.ErrValidation, "document is required")
	}
	if doc.Filename == "" {
		return "", goerr.Wrap(model.ErrValidation, "document filename is required")
	}
	if len(doc.Embedding) != model.EmbeddingDimension {
		return "", goerr.Wrap(model.ErrValidation, "unexpected embedding dimension",
			goerr.V("expected", model.EmbeddingDimension), goerr.V("actual", len(doc.Embedding)))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byFilename[doc.Filename]; exists {
		return "", goerr.Wrap(model.ErrAlreadyExists, "filename is already stored",
			goerr.V(model.FilenameKey, doc.Filename))
	}

	now := time.Now().UTC()
	created := copyDocument(doc)
	if created.ID == "" {
		created.ID = model.NewDocumentID()
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	// staged rows become visible only when every insert succeeded
	staged := make([]*model.Instruction, 0, len(instructions))
	for seq, ins := range instructions {
		if seq == r.instructionFault {
			return "", goerr.Wrap(model.ErrStorageIntegrity, "failed to insert instruction",
				goerr.V(model.DocumentIDKey, created.ID), goerr.V("seq", seq))
		}
		if ins.Page < 1 {
			return "", goerr.Wrap(model.ErrStorageIntegrity, "instruction violates page check",
				goerr.V("seq", seq), goerr.V("page", ins.Page))
		}
		if len(ins.Embedding) != model.EmbeddingDimension {
			return "", goerr.Wrap(model.ErrValidation, "unexpected embedding dimension",
				goerr.V("seq", seq), goerr.V("actual", len(ins.Embedding)))
		}
		row := copyInstruction(ins)
		if row.ID == "" {
			row.ID = model.NewInstructionID()
		}
		row.ParentID = created.ID
		row.Seq = seq
		row.CreatedAt = now
		staged = append(staged, row)
	}

	r.inserted++
	r.documents[created.ID] = &storedDocument{doc: created, inserted: r.inserted}
	r.byFilename[created.Filename] = created.ID
	r.instructions[created.ID] = staged
	return created.ID, nil
}

func (r *documentRepository) GetDocument(ctx context.Context, id model.DocumentID) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, exists := r.documents[id]
	if !exists {
		return nil, nil
	}
	return copyDocument(stored.doc), nil
}

func (r *documentRepository) GetDocumentByFilename(ctx context.Context, filename string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byFilename[filename]
	if !exists {
		return nil, nil
	}
	return copyDocument(r.documents[id].doc), nil
}

func (r *documentRepository) ListDocuments(ctx context.Context, limit, offset int) ([]*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*storedDocument, 0, len(r.documents))
	for _, s := range r.documents {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].doc.CreatedAt.Equal(all[j].doc.CreatedAt) {
			return all[i].doc.CreatedAt.After(all[j].doc.CreatedAt)
		}
		if all[i].inserted != all[j].inserted {
			return all[i].inserted > all[j].inserted
		}
		return all[i].doc.ID > all[j].doc.ID
	})

	if offset >= len(all) {
		return []*model.Document{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}

	result := make([]*model.Document, 0, end-offset)
	for _, s := range all[offset:end] {
		result = append(result, copyDocument(s.doc))
	}
	return result, nil
}

func (r *documentRepository) GetDocumentInstructions(ctx context.Context, id model.DocumentID) ([]*model.Instruction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.instructions[id]
	result := make([]*model.Instruction, 0, len(rows))
	for _, ins := range rows {
		result = append(result, copyInstruction(ins))
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Page != result[j].Page {
			return result[i].Page < result[j].Page
		}
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

func (r *documentRepository) SearchDocuments(ctx context.Context, embedding []float32, limit int) ([]*model.ScoredDocument, error) {
	if len(embedding) != model.EmbeddingDimension {
		return nil, goerr.Wrap(model.ErrValidation, "unexpected query embedding dimension", goerr.V("actual", len(embedding)))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	hits := make([]*model.ScoredDocument, 0, len(r.documents))
	for _, s := range r.documents {
		hits = append(hits, &model.ScoredDocument{
			DocumentSummary: s.doc.Summary(),
			Similarity:      cosineSimilarity(embedding, s.doc.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})

	if limit >= 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (r *documentRepository) SearchInstructions(ctx context.Context, embedding []float32, limit int) ([]*model.ScoredInstruction, error) {
	if len(embedding) != model.EmbeddingDimension {
		return nil, goerr.Wrap(model.ErrValidation, "unexpected query embedding dimension", goerr.V("actual", len(embedding)))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var hits []*model.ScoredInstruction
	for _, rows := range r.instructions {
		for _, ins := range rows {
			hits = append(hits, &model.ScoredInstruction{
				InstructionSummary: model.InstructionSummary{
					ID:          ins.ID,
					ParentID:    ins.ParentID,
					Page:        ins.Page,
					Header:      ins.Header,
					Instruction: ins.Instruction,
				},
				Similarity: cosineSimilarity(embedding, ins.Embedding),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})

	if limit >= 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []*model.ScoredInstruction{}
	}
	return hits, nil
}

func (r *documentRepository) DeleteDocument(ctx context.Context, id model.DocumentID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.documents[id]
	if !exists {
		return false, nil
	}
	delete(r.byFilename, stored.doc.Filename)
	delete(r.instructions, id)
	delete(r.documents, id)
	return true, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return dot / denom
}
