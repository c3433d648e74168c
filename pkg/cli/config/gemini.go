package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/secmon-lab/tapestry/pkg/service/embedding"
	"github.com/secmon-lab/tapestry/pkg/service/extractor"
	"github.com/urfave/cli/v3"
)

// Gemini holds configuration for the extraction and embedding models on Vertex AI
type Gemini struct {
	projectID string
	location  string
	model     string
}

// Flags returns CLI flags for Gemini configuration
func (g *Gemini) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Category:    "Gemini",
			Usage:       "Google Cloud project ID for Gemini API",
			Sources:     cli.EnvVars("TAPESTRY_GEMINI_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &g.projectID,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Category:    "Gemini",
			Usage:       "Google Cloud location for Gemini API",
			Value:       "us-central1",
			Sources:     cli.EnvVars("TAPESTRY_GEMINI_LOCATION"),
			Destination: &g.location,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Category:    "Gemini",
			Usage:       "Model used for PDF extraction",
			Value:       extractor.DefaultModel,
			Sources:     cli.EnvVars("TAPESTRY_GEMINI_MODEL"),
			Destination: &g.model,
		},
	}
}

func (g Gemini) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("project_id", g.projectID),
		slog.String("location", g.location),
		slog.String("model", g.model),
	)
}

// Configured reports whether a project is set
func (g *Gemini) Configured() bool {
	return g.projectID != ""
}

// Configure creates the extractor and embedder. Both are nil when no project is set,
// so read-only commands keep working without Gemini access.
func (g *Gemini) Configure(ctx context.Context, settings *PipelineSettings) (*extractor.Client, *embedding.Client, error) {
	if g.projectID == "" {
		return nil, nil, nil
	}
	if settings == nil {
		settings = &PipelineSettings{}
	}

	gen, err := extractor.NewGeminiGenerator(ctx, g.projectID, g.location)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create Gemini generator")
	}

	model := g.model
	if settings.Extractor.Model != "" {
		model = settings.Extractor.Model
	}
	exOpts := []extractor.Option{
		extractor.WithModel(model),
		extractor.WithPrompt(settings.Extractor.SystemPrompt, settings.Extractor.Prompt),
	}
	if settings.Extractor.Temperature != nil {
		exOpts = append(exOpts, extractor.WithTemperature(*settings.Extractor.Temperature))
	}
	if settings.ExtractorRetry.MaxAttempts > 0 {
		exOpts = append(exOpts, extractor.WithRetryPolicy(settings.ExtractorRetry))
	}
	ex, err := extractor.New(gen, exOpts...)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create extractor")
	}

	llm, err := gemini.New(ctx, g.projectID, g.location)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create Gemini client")
	}
	var emOpts []embedding.Option
	if settings.EmbedderRetry.MaxAttempts > 0 {
		emOpts = append(emOpts, embedding.WithRetryPolicy(settings.EmbedderRetry))
	}
	em, err := embedding.New(llm, emOpts...)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create embedder")
	}

	return ex, em, nil
}
