package extractor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used for extraction
const DefaultModel = "gemini-2.5-flash"

// DefaultTemperature keeps extraction mostly deterministic while allowing step merging
const DefaultTemperature = 0.5

// DefaultSystemPrompt frames the model as a garment technologist
const DefaultSystemPrompt = `You are an experienced pattern maker and garment production technologist.
You turn sewing tutorials into a step-by-step guide for building a garment.
Every text you return is in English; translate when the source uses another language.
You locate the illustrations that belong to each step and report their bounding boxes.`

// DefaultPrompt is the extraction task sent along with the PDF
const DefaultPrompt = `Detect text blocks and illustrations in this PDF file.
Extract the name and a short description of the garment.
Extract specifications, supplies, equipment and materials. Extract fabric consumption. Extract all preprocessing steps.
Extract section headers.
Only consider text with detailed sewing instructions written as sentences that dictate actions.
For each instruction choose the illustration that matches it best and report its box as [y1, x1, y2, x2] on a 0-1000 scale.
Merge instructions that point to the same illustration.`

// Client implements interfaces.Extractor
type Client struct {
	gen          Generator
	model        string
	systemPrompt string
	prompt       string
	temperature  float32
	policy       retry.Policy
}

var _ interfaces.Extractor = &Client{}

// Option is a functional option for client configuration
type Option func(*Client)

// WithModel sets the model name
func WithModel(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.model = name
		}
	}
}

// WithPrompt replaces the system prompt and task prompt. Empty values keep the defaults.
func WithPrompt(systemPrompt, prompt string) Option {
	return func(c *Client) {
		if systemPrompt != "" {
			c.systemPrompt = systemPrompt
		}
		if prompt != "" {
			c.prompt = prompt
		}
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float32) Option {
	return func(c *Client) { c.temperature = t }
}

// WithRetryPolicy replaces the retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// New creates an extractor over the given generator
func New(gen Generator, opts ...Option) (*Client, error) {
	if gen == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "generator is required")
	}

	c := &Client{
		gen:          gen,
		model:        DefaultModel,
		systemPrompt: DefaultSystemPrompt,
		prompt:       DefaultPrompt,
		temperature:  DefaultTemperature,
		policy:       retry.ExtractorPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Extract sends the PDF to the model and returns a validated record
func (c *Client) Extract(ctx context.Context, pdf []byte) (*model.StructuredRecord, error) {
	if len(pdf) == 0 {
		return nil, goerr.Wrap(model.ErrValidation, "PDF content is empty")
	}

	req := &Request{
		Model:        c.model,
		SystemPrompt: c.systemPrompt,
		Prompt:       c.prompt,
		PDF:          pdf,
		Schema:       ResponseSchema(),
		Temperature:  c.temperature,
	}

	resp, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*Response, error) {
		return c.gen.Generate(ctx, req)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to extract structured record", goerr.V("model", c.model))
	}

	logging.From(ctx).Info("extracted structured record",
		"model", c.model,
		"total_tokens", resp.TotalTokens,
	)
	logging.From(ctx).Debug("extraction token usage",
		"prompt_tokens", resp.PromptTokens,
		"output_tokens", resp.OutputTokens,
	)

	return parseRecord(resp.Text)
}

func parseRecord(text string) (*model.StructuredRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, goerr.Wrap(model.ErrValidation, "model returned an empty answer")
	}

	var record model.StructuredRecord
	if err := json.Unmarshal([]byte(text), &record); err != nil {
		return nil, goerr.Wrap(model.Tag(model.ErrValidation, err), "failed to parse model answer",
			goerr.V("response", truncate(text, 512)))
	}
	if err := record.Validate(); err != nil {
		return nil, goerr.Wrap(err, "model answer does not satisfy the record schema")
	}
	return &record, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ResponseSchema is the JSON schema the model must answer with
func ResponseSchema() *genai.Schema {
	text := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}

	return &genai.Schema{
		Title:       "Instructions",
		Description: "Structured sewing tutorial",
		Type:        genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":              text("Name of the garment"),
			"brief":              text("Description of the garment"),
			"specifications":     text("Specifications of the garment"),
			"production_package": text("Supplies, equipment and materials"),
			"fabric_consumption": text("Fabric consumption"),
			"preprocessings":     text("Preprocessing steps before sewing"),
			"list_instructions": {
				Type:        genai.TypeArray,
				Description: "Ordered sewing steps, each with its matching illustration",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"page":        {Type: genai.TypeInteger, Description: "Page number, starting at 1"},
						"header":      text("Section header"),
						"instruction": text("Text of the sewing step"),
						"box_2d": {
							Type:        genai.TypeArray,
							Description: "Bounding box of the illustration as [y1, x1, y2, x2]",
							Items:       &genai.Schema{Type: genai.TypeInteger},
							MinItems:    genai.Ptr[int64](4),
							MaxItems:    genai.Ptr[int64](4),
						},
					},
					Required: []string{"page", "header", "instruction", "box_2d"},
				},
			},
		},
		Required: []string{"title", "brief", "specifications", "production_package",
			"fabric_consumption", "preprocessings", "list_instructions"},
	}
}
