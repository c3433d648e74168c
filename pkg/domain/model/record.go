package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// StructuredRecord is the extractor output for one PDF
type StructuredRecord struct {
	Title             string `json:"title"`
	Brief             string `json:"brief"`
	Specifications    string `json:"specifications"`
	ProductionPackage string `json:"production_package"`
	FabricConsumption string `json:"fabric_consumption"`
	Preprocessings    string `json:"preprocessings"`
	Steps             []Step `json:"list_instructions"`
}

// Step is one instruction of a StructuredRecord
type Step struct {
	Page        int    `json:"page"`
	Header      string `json:"header"`
	Instruction string `json:"instruction"`
	Box2D       []int  `json:"box_2d"`
}

// Validate checks required fields. Box coordinates are not range checked.
func (r *StructuredRecord) Validate() error {
	if r == nil {
		return goerr.Wrap(ErrValidation, "structured record is nil")
	}
	if strings.TrimSpace(r.Title) == "" {
		return goerr.Wrap(ErrValidation, "title is required")
	}
	for i, s := range r.Steps {
		if s.Page < 1 {
			return goerr.Wrap(ErrValidation, "page must be positive",
				goerr.V("index", i), goerr.V("page", s.Page))
		}
		if len(s.Box2D) != 4 {
			return goerr.Wrap(ErrValidation, "box_2d must have exactly four coordinates",
				goerr.V("index", i), goerr.V("box_2d", s.Box2D))
		}
		if strings.TrimSpace(s.Instruction) == "" {
			return goerr.Wrap(ErrValidation, "instruction text is required", goerr.V("index", i))
		}
	}
	return nil
}

// NewDocument builds an unsaved Document from the record
func (r *StructuredRecord) NewDocument(filename string) *Document {
	return &Document{
		ID:                NewDocumentID(),
		Filename:          filename,
		Title:             r.Title,
		Brief:             r.Brief,
		Specifications:    r.Specifications,
		ProductionPackage: r.ProductionPackage,
		FabricConsumption: r.FabricConsumption,
		Preprocessings:    r.Preprocessings,
	}
}

// NewInstructions builds unsaved Instructions in step order. Seq keeps the step order.
func (r *StructuredRecord) NewInstructions(parentID DocumentID) []*Instruction {
	instructions := make([]*Instruction, 0, len(r.Steps))
	for i, s := range r.Steps {
		var box BoundingBox
		copy(box[:], s.Box2D)
		instructions = append(instructions, &Instruction{
			ID:          NewInstructionID(),
			ParentID:    parentID,
			Page:        s.Page,
			Header:      s.Header,
			Instruction: s.Instruction,
			Box2D:       box,
			Seq:         i,
		})
	}
	return instructions
}
