package extractor

import (
	"context"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"google.golang.org/genai"
)

type geminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator creates a Generator backed by Gemini on Vertex AI
func NewGeminiGenerator(ctx context.Context, projectID, location string) (Generator, error) {
	if projectID == "" {
		return nil, goerr.Wrap(model.ErrConfiguration, "gemini project ID is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(model.Tag(model.ErrConfiguration, err), "failed to create genai client",
			goerr.V("project", projectID), goerr.V("location", location))
	}
	return &geminiGenerator{client: client}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, req *Request) (*Response, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.PDF, model.PDFMimeType),
			genai.NewPartFromText(req.Prompt),
		}, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, classify(err)
	}

	out := &Response{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.PromptTokens = resp.UsageMetadata.PromptTokenCount
		out.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
		out.TotalTokens = resp.UsageMetadata.TotalTokenCount
	}
	return out, nil
}

// classify maps Gemini API errors onto the error taxonomy
func classify(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return goerr.Wrap(model.Tag(model.ErrTransientIO, err), "gemini temporarily unavailable", goerr.V("status", code))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return goerr.Wrap(model.Tag(model.ErrConfiguration, err), "gemini access denied", goerr.V("status", code))
	case code == http.StatusBadRequest:
		return goerr.Wrap(model.Tag(model.ErrValidation, err), "gemini rejected the request")
	case code != 0:
		return goerr.Wrap(err, "gemini API error", goerr.V("status", code))
	}

	if retry.IsTransientIO(err) {
		return goerr.Wrap(model.Tag(model.ErrTransientIO, err), "gemini request failed")
	}
	return goerr.Wrap(err, "gemini request failed")
}
