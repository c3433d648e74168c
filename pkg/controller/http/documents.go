package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/usecase"
)

type processRequest struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

type processResponse struct {
	*model.Document
	AlreadyExisted bool `json:"already_existed"`
}

type batchProcessRequest struct {
	FileIDs   []string `json:"file_ids"`
	Filenames []string `json:"filenames"`
}

type batchItemError struct {
	Ref      string `json:"ref"`
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error"`
}

type batchProcessResponse struct {
	Processed   int                `json:"processed"`
	DocumentIDs []model.DocumentID `json:"document_ids"`
	Skipped     []model.DocumentID `json:"skipped"`
	Errors      []batchItemError   `json:"errors"`
}

type searchRequest struct {
	Query      string `json:"query"`
	SearchType string `json:"search_type"`
	Limit      int    `json:"limit"`
}

// searchHit flattens document and instruction hits into one shape
type searchHit struct {
	ID          string  `json:"id"`
	Similarity  float64 `json:"similarity"`
	ParentID    string  `json:"parent_id,omitempty"`
	Filename    string  `json:"filename,omitempty"`
	Title       string  `json:"title,omitempty"`
	Brief       string  `json:"brief,omitempty"`
	Header      string  `json:"header,omitempty"`
	Instruction string  `json:"instruction,omitempty"`
	Page        int     `json:"page,omitempty"`
}

func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	result, err := s.uc.Pipeline.Process(r.Context(), usecase.ProcessInput{
		FileID:   req.FileID,
		Filename: req.Filename,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyExisted {
		status = http.StatusOK
	}
	writeJSON(w, r, status, processResponse{Document: result.Document, AlreadyExisted: result.AlreadyExisted})
}

func (s *Server) batchProcessHandler(w http.ResponseWriter, r *http.Request) {
	var req batchProcessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	result, err := s.uc.Pipeline.BatchProcess(r.Context(), usecase.BatchInput{
		FileIDs:   req.FileIDs,
		Filenames: req.Filenames,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := batchProcessResponse{
		Processed:   len(result.Succeeded),
		DocumentIDs: result.Succeeded,
		Skipped:     result.Skipped,
		Errors:      make([]batchItemError, 0, len(result.Errors)),
	}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, batchItemError{
			Ref:      e.Ref,
			FileID:   e.FileID,
			Filename: e.Filename,
			Error:    e.Err.Error(),
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) listDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		handleError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		handleError(w, r, err)
		return
	}

	docs, err := s.uc.Document.List(r.Context(), limit, offset)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	writeJSON(w, r, http.StatusOK, docs)
}

func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id := model.DocumentID(chi.URLParam(r, "id"))

	detail, err := s.uc.Document.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if detail.Instructions == nil {
		detail.Instructions = []*model.Instruction{}
	}
	writeJSON(w, r, http.StatusOK, detail)
}

func (s *Server) deleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id := model.DocumentID(chi.URLParam(r, "id"))

	if err := s.uc.Document.Delete(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	result, err := s.uc.Document.Search(r.Context(), usecase.SearchInput{
		Query: req.Query,
		Type:  model.SearchType(req.SearchType),
		Limit: req.Limit,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	hits := make([]searchHit, 0, result.Count())
	for _, d := range result.Documents {
		hits = append(hits, searchHit{
			ID:         d.ID.String(),
			Similarity: d.Similarity,
			Filename:   d.Filename,
			Title:      d.Title,
			Brief:      d.Brief,
		})
	}
	for _, ins := range result.Instructions {
		hits = append(hits, searchHit{
			ID:          string(ins.ID),
			Similarity:  ins.Similarity,
			ParentID:    ins.ParentID.String(),
			Header:      ins.Header,
			Instruction: ins.Instruction,
			Page:        ins.Page,
		})
	}
	writeJSON(w, r, http.StatusOK, hits)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, goerr.Wrap(model.ErrValidation, "query parameter must be an integer", goerr.V(key, raw))
	}
	return v, nil
}
