package model

import "github.com/m-mizutani/goerr/v2"

// SearchType selects the table a similarity search runs against
type SearchType string

const (
	SearchDocuments    SearchType = "documents"
	SearchInstructions SearchType = "instructions"
)

// Validate checks the search type
func (t SearchType) Validate() error {
	switch t {
	case SearchDocuments, SearchInstructions:
		return nil
	default:
		return goerr.Wrap(ErrValidation, "invalid search type", goerr.V("search_type", string(t)))
	}
}
