package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmbeddingDimension is the dimension of the embedding vector
// Gemini text-embedding-004 uses 768 dimensions
const EmbeddingDimension = 768

// DocumentID is a UUID-based identifier for Document
type DocumentID string

// NewDocumentID generates a new UUID v4 DocumentID
func NewDocumentID() DocumentID {
	return DocumentID(uuid.New().String())
}

func (id DocumentID) String() string { return string(id) }

// InstructionID is a UUID-based identifier for Instruction
type InstructionID string

// NewInstructionID generates a new UUID v4 InstructionID
func NewInstructionID() InstructionID {
	return InstructionID(uuid.New().String())
}

// Document is one ingested tutorial. Filename is the natural key.
type Document struct {
	ID                DocumentID `json:"id" db:"id"`
	Filename          string     `json:"filename" db:"filename"`
	Title             string     `json:"title" db:"title"`
	Brief             string     `json:"brief,omitempty" db:"brief"`
	Specifications    string     `json:"specifications,omitempty" db:"specifications"`
	ProductionPackage string     `json:"production_package,omitempty" db:"production_package"`
	FabricConsumption string     `json:"fabric_consumption,omitempty" db:"fabric_consumption"`
	Preprocessings    string     `json:"preprocessings,omitempty" db:"preprocessings"`
	Embedding         []float32  `json:"-" db:"-"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// EmbeddingText is the text the document embedding is computed from
func (d *Document) EmbeddingText() string {
	return joinNonEmpty(d.Title, d.Brief, d.Specifications, d.ProductionPackage, d.FabricConsumption, d.Preprocessings)
}

// Summary drops the long text fields
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:       d.ID,
		Filename: d.Filename,
		Title:    d.Title,
		Brief:    d.Brief,
	}
}

// BoundingBox locates a region in a page image as y1, x1, y2, x2
type BoundingBox [4]int

// Instruction is one ordered step of a Document
type Instruction struct {
	ID          InstructionID `json:"id"`
	ParentID    DocumentID    `json:"parent_id"`
	Page        int           `json:"page"`
	Header      string        `json:"header,omitempty"`
	Instruction string        `json:"instruction"`
	Box2D       BoundingBox   `json:"box_2d"`
	Seq         int           `json:"-"`
	Embedding   []float32     `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
}

// EmbeddingText is the text the instruction embedding is computed from
func (i *Instruction) EmbeddingText() string {
	return joinNonEmpty(i.Header, i.Instruction)
}

// DocumentSummary is the search projection of Document
type DocumentSummary struct {
	ID       DocumentID `json:"id"`
	Filename string     `json:"filename"`
	Title    string     `json:"title"`
	Brief    string     `json:"brief,omitempty"`
}

// ScoredDocument is a document search hit
type ScoredDocument struct {
	DocumentSummary
	Similarity float64 `json:"similarity"`
}

// InstructionSummary is the search projection of Instruction
type InstructionSummary struct {
	ID          InstructionID `json:"id"`
	ParentID    DocumentID    `json:"parent_id"`
	Page        int           `json:"page"`
	Header      string        `json:"header,omitempty"`
	Instruction string        `json:"instruction"`
}

// ScoredInstruction is an instruction search hit
type ScoredInstruction struct {
	InstructionSummary
	Similarity float64 `json:"similarity"`
}

func joinNonEmpty(parts ...string) string {
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// DatabaseStatus is a snapshot of the storage backend for health reporting
type DatabaseStatus struct {
	Backend         string `json:"backend"`
	State           string `json:"state"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	Reconnects      int64  `json:"reconnects"`
}
