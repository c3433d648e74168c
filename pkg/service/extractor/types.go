package extractor

import (
	"context"

	"google.golang.org/genai"
)

// Request is one multimodal extraction call
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	PDF          []byte
	Schema       *genai.Schema
	Temperature  float32
}

// Response is the raw model answer with token usage
type Response struct {
	Text         string
	PromptTokens int32
	OutputTokens int32
	TotalTokens  int32
}

// Generator performs the model call. The Gemini implementation is NewGeminiGenerator.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}
