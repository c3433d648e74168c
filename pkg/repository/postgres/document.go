package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
)

const documentColumns = `id, filename, title, brief, specifications, production_package,
	fabric_consumption, preprocessings, created_at, updated_at`

const instructionColumns = `id, parent_id, seq, page, header, instruction,
	box_y1, box_x1, box_y2, box_x2, created_at`

const (
	insertDocumentSQL = `INSERT INTO documents (id, filename, title, brief, specifications, production_package,
	fabric_consumption, preprocessings, embedding, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	insertInstructionSQL = `INSERT INTO instructions (id, parent_id, seq, page, header, instruction,
	box_y1, box_x1, box_y2, box_x2, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	searchDocumentsSQL = `SELECT id, filename, title, brief, 1 - (embedding <=> $1) AS similarity
FROM documents
ORDER BY embedding <=> $1, id
LIMIT $2`

	searchInstructionsSQL = `SELECT id, parent_id, page, header, instruction, 1 - (embedding <=> $1) AS similarity
FROM instructions
ORDER BY embedding <=> $1, id
LIMIT $2`
)

type documentRow struct {
	ID                string          `db:"id"`
	Filename          string          `db:"filename"`
	Title             string          `db:"title"`
	Brief             string          `db:"brief"`
	Specifications    string          `db:"specifications"`
	ProductionPackage string          `db:"production_package"`
	FabricConsumption string          `db:"fabric_consumption"`
	Preprocessings    string          `db:"preprocessings"`
	Embedding         pgvector.Vector `db:"embedding"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r *documentRow) toModel() *model.Document {
	return &model.Document{
		ID:                model.DocumentID(r.ID),
		Filename:          r.Filename,
		Title:             r.Title,
		Brief:             r.Brief,
		Specifications:    r.Specifications,
		ProductionPackage: r.ProductionPackage,
		FabricConsumption: r.FabricConsumption,
		Preprocessings:    r.Preprocessings,
		Embedding:         r.Embedding.Slice(),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type instructionRow struct {
	ID          string    `db:"id"`
	ParentID    string    `db:"parent_id"`
	Seq         int       `db:"seq"`
	Page        int       `db:"page"`
	Header      string    `db:"header"`
	Instruction string    `db:"instruction"`
	BoxY1       int       `db:"box_y1"`
	BoxX1       int       `db:"box_x1"`
	BoxY2       int       `db:"box_y2"`
	BoxX2       int       `db:"box_x2"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *instructionRow) toModel() *model.Instruction {
	return &model.Instruction{
		ID:          model.InstructionID(r.ID),
		ParentID:    model.DocumentID(r.ParentID),
		Seq:         r.Seq,
		Page:        r.Page,
		Header:      r.Header,
		Instruction: r.Instruction,
		Box2D:       model.BoundingBox{r.BoxY1, r.BoxX1, r.BoxY2, r.BoxX2},
		CreatedAt:   r.CreatedAt,
	}
}

type documentRepository struct {
	manager *Manager
}

func validateEmbedding(vec []float32, what string) error {
	if len(vec) != model.EmbeddingDimension {
		return goerr.Wrap(model.ErrValidation, "unexpected embedding dimension",
			goerr.V("target", what),
			goerr.V("expected", model.EmbeddingDimension),
			goerr.V("actual", len(vec)))
	}
	return nil
}

// StoreDocument implements interfaces.DocumentRepository
func (r *documentRepository) StoreDocument(ctx context.Context, doc *model.Document, instructions []*model.Instruction) (model.DocumentID, error) {
	if doc == nil {
		return "", goerr.Wrap(model.ErrValidation, "document is required")
	}
	if doc.Filename == "" {
		return "", goerr.Wrap(model.ErrValidation, "document filename is required")
	}
	if err := validateEmbedding(doc.Embedding, "document"); err != nil {
		return "", err
	}
	for i, ins := range instructions {
		if err := validateEmbedding(ins.Embedding, "instruction"); err != nil {
			return "", goerr.Wrap(err, "invalid instruction", goerr.V("seq", i))
		}
	}

	id := doc.ID
	if id == "" {
		id = model.NewDocumentID()
	}
	now := time.Now().UTC()

	err := r.manager.WithSession(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, insertDocumentSQL,
			id.String(), doc.Filename, doc.Title, doc.Brief, doc.Specifications, doc.ProductionPackage,
			doc.FabricConsumption, doc.Preprocessings, pgvector.NewVector(doc.Embedding), now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return goerr.Wrap(model.ErrAlreadyExists, "filename is already stored",
					goerr.V(model.FilenameKey, doc.Filename))
			}
			return storageError(err, "failed to insert document", goerr.V(model.FilenameKey, doc.Filename))
		}

		for seq, ins := range instructions {
			insID := ins.ID
			if insID == "" {
				insID = model.NewInstructionID()
			}
			_, err := tx.ExecContext(ctx, insertInstructionSQL,
				string(insID), id.String(), seq, ins.Page, ins.Header, ins.Instruction,
				ins.Box2D[0], ins.Box2D[1], ins.Box2D[2], ins.Box2D[3],
				pgvector.NewVector(ins.Embedding), now)
			if err != nil {
				return storageError(err, "failed to insert instruction",
					goerr.V(model.DocumentIDKey, id), goerr.V("seq", seq))
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *documentRepository) getOne(ctx context.Context, query string, arg any) (*model.Document, error) {
	var row documentRow
	found := true
	err := r.manager.WithSession(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &row, query, arg); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				found = false
				return nil
			}
			return storageError(err, "failed to read document")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return row.toModel(), nil
}

// GetDocument implements interfaces.DocumentRepository
func (r *documentRepository) GetDocument(ctx context.Context, id model.DocumentID) (*model.Document, error) {
	doc, err := r.getOne(ctx, `SELECT `+documentColumns+`, embedding FROM documents WHERE id = $1`, id.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document", goerr.V(model.DocumentIDKey, id))
	}
	return doc, nil
}

// GetDocumentByFilename implements interfaces.DocumentRepository
func (r *documentRepository) GetDocumentByFilename(ctx context.Context, filename string) (*model.Document, error) {
	doc, err := r.getOne(ctx, `SELECT `+documentColumns+`, embedding FROM documents WHERE filename = $1`, filename)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document by filename", goerr.V(model.FilenameKey, filename))
	}
	return doc, nil
}

// ListDocuments implements interfaces.DocumentRepository
func (r *documentRepository) ListDocuments(ctx context.Context, limit, offset int) ([]*model.Document, error) {
	var rows []documentRow
	err := r.manager.WithSession(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		rows = nil
		if err := tx.SelectContext(ctx, &rows,
			`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
			limit, offset); err != nil {
			return storageError(err, "failed to list documents")
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list documents", goerr.V("limit", limit), goerr.V("offset", offset))
	}

	docs := make([]*model.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, rows[i].toModel())
	}
	return docs, nil
}

// GetDocumentInstructions implements interfaces.DocumentRepository
func (r *documentRepository) GetDocumentInstructions(ctx context.Context, id model.DocumentID) ([]*model.Instruction, error) {
	var rows []instructionRow
	err := r.manager.WithSession(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		rows = nil
		if err := tx.SelectContext(ctx, &rows,
			`SELECT `+instructionColumns+` FROM instructions WHERE parent_id = $1 ORDER BY page, seq`,
			id.String()); err != nil {
			return storageError(err, "failed to read instructions")
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get instructions", goerr.V(model.DocumentIDKey, id))
	}

	result := make([]*model.Instruction, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

// SearchDocuments implements interfaces.DocumentRepository
func (r *documentRepository) SearchDocuments(ctx context.Context, embedding []float32, limit int) ([]*model.ScoredDocument, error) {
	if err := validateEmbedding(embedding, "query"); err != nil {
		return nil, err
	}

	var rows []struct {
		ID         string  `db:"id"`
		Filename   string  `db:"filename"`
		Title      string  `db:"title"`
		Brief      string  `db:"brief"`
		Similarity float64 `db:"similarity"`
	}
	err := r.manager.WithSession(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		rows = nil
		if err := tx.SelectContext(ctx, &rows, searchDocumentsSQL, pgvector.NewVector(embedding), limit); err != nil {
			return storageError(err, "failed to search documents")
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search documents", goerr.V("limit", limit))
	}

	hits := make([]*model.ScoredDocument, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, &model.ScoredDocument{
			DocumentSummary: model.DocumentSummary{
				ID:       model.DocumentID(row.ID),
				Filename: row.Filename,
				Title:    row.Title,
				Brief:    row.Brief,
			},
			Similarity: row.Similarity,
		})
	}
	return hits, nil
}

// SearchInstructions implements interfaces.DocumentRepository
func (r *documentRepository) SearchInstructions(ctx context.Context, embedding []float32, limit int) ([]*model.ScoredInstruction, error) {
	if err := validateEmbedding(embedding, "query"); err != nil {
		return nil, err
	}

	var rows []struct {
		ID          string  `db:"id"`
		ParentID    string  `db:"parent_id"`
		Page        int     `db:"page"`
		Header      string  `db:"header"`
		Instruction string  `db:"instruction"`
		Similarity  float64 `db:"similarity"`
	}
	err := r.manager.WithSession(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		rows = nil
		if err := tx.SelectContext(ctx, &rows, searchInstructionsSQL, pgvector.NewVector(embedding), limit); err != nil {
			return storageError(err, "failed to search instructions")
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search instructions", goerr.V("limit", limit))
	}

	hits := make([]*model.ScoredInstruction, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, &model.ScoredInstruction{
			InstructionSummary: model.InstructionSummary{
				ID:          model.InstructionID(row.ID),
				ParentID:    model.DocumentID(row.ParentID),
				Page:        row.Page,
				Header:      row.Header,
				Instruction: row.Instruction,
			},
			Similarity: row.Similarity,
		})
	}
	return hits, nil
}

// DeleteDocument implements interfaces.DocumentRepository
func (r *documentRepository) DeleteDocument(ctx context.Context, id model.DocumentID) (bool, error) {
	var deleted bool
	err := r.manager.WithSession(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id.String())
		if err != nil {
			return storageError(err, "failed to delete document")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storageError(err, "failed to read affected rows")
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete document", goerr.V(model.DocumentIDKey, id))
	}
	return deleted, nil
}
