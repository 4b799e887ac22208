// Package app assembles the run controller from configuration.
package app

import (
	"log/slog"
	"time"

	"github.com/dgallion1/docforge/internal/config"
	"github.com/dgallion1/docforge/internal/parser"
	"github.com/dgallion1/docforge/internal/pipeline"
	"github.com/dgallion1/docforge/internal/render"
	"github.com/dgallion1/docforge/internal/transform"
	"github.com/dgallion1/docforge/internal/validate"
)

// App owns the long-lived collaborators of a controller.
type App struct {
	Controller *pipeline.Controller
	LLM        *transform.Client
	pdf        *render.RodRenderer
	log        *slog.Logger
}

// New wires loader, transformer, renderer and validator into a Controller.
func New(cfg config.Config, log *slog.Logger) *App {
	llm := transform.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicBaseURL,
		transform.NewLLMStats(time.Hour), log.With("component", "transform"))
	pdf := render.NewRodRenderer(cfg.RodBrowserBin, 0)

	deps := pipeline.Deps{
		Loader:      parser.NewLoader(cfg.MaxUploadBytes, parser.Options{FallbackPdftotext: cfg.PDFFallbackPdftotext}, log.With("component", "parser")),
		Transformer: llm,
		Titler:      llm,
		Generator:   render.New(cfg.OutputDir, pdf, log.With("component", "render")),
		Validator:   validate.New(log.With("component", "validate")),
	}
	opts := pipeline.Options{
		MaxChunkSize:         cfg.MaxChunkSize,
		MaxRetries:           cfg.MaxRetries,
		TransformConcurrency: cfg.TransformConcurrency,
		CallTimeout:          cfg.CallTimeout,
		Backoff:              pipeline.ExponentialBackoff(cfg.RetryBackoff),
	}
	return &App{
		Controller: pipeline.NewController(deps, opts, log),
		LLM:        llm,
		pdf:        pdf,
		log:        log,
	}
}

// Close shuts down the browser and idle model connections.
func (a *App) Close() {
	if err := a.pdf.Close(); err != nil {
		a.log.Warn("browser close failed", "error", err)
	}
	a.LLM.Close()
}
