package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/manifest"
)

// App encapsulates one run's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	registry *manifest.Registry
	template *manifest.Template
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and a resolved task
// template.
func NewApp(outW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	registry, err := manifest.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("loading built-in templates: %w", err)
	}
	if cfg.TemplatesPath != "" {
		if err := registry.Load(ctx, cfg.TemplatesPath); err != nil {
			return nil, fmt.Errorf("loading templates from %s: %w", cfg.TemplatesPath, err)
		}
	}
	logger.Debug("Task templates registered.", "templates", registry.Names())

	tpl, err := registry.Get(cfg.Template)
	if err != nil {
		return nil, err
	}
	if cfg.Image != "" {
		// Image overrides apply to a copy; the registry entry stays pristine.
		override := *tpl
		override.Image = cfg.Image
		tpl = &override
	}
	logger.Debug("Template resolved.", "template", tpl.Name, "image", tpl.Image)

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: registry,
		template: tpl,
	}, nil
}

// Template returns the resolved task template. This is primarily for testing.
func (a *App) Template() *manifest.Template {
	return a.template
}
