// Package server wires the style session, the journal and the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-mapstyle/internal/api"
	"github.com/joeblew999/plat-mapstyle/internal/humastar"
	"github.com/joeblew999/plat-mapstyle/internal/journal"
	"github.com/joeblew999/plat-mapstyle/internal/logger"
	"github.com/joeblew999/plat-mapstyle/internal/metrics"
	"github.com/joeblew999/plat-mapstyle/internal/service"
	"github.com/joeblew999/plat-mapstyle/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	// Journal enables the DuckDB journal under DataDir/duckdb.
	Journal bool
	// InMemory keeps the journal out of DataDir.
	InMemory bool
	// FragmentsDir overrides the embedded HTML fragments, for editing them
	// without rebuilding.
	FragmentsDir string
	Logger       *zap.SugaredLogger
}

// Server is the map style HTTP server.
type Server struct {
	config  Config
	mux     *http.ServeMux
	humaAPI huma.API
	svc     *service.StyleService
	journal *journal.Journal
	log     *zap.SugaredLogger
}

// New creates the server. The style session does not run until Run.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.For(logger.ComponentServer)
	}

	var j *journal.Journal
	if cfg.Journal {
		jcfg := journal.Config{DataDir: cfg.DataDir, DBName: "mapstyle"}
		if cfg.InMemory {
			jcfg.DataDir = ""
		}
		var err error
		if j, err = journal.Open(jcfg); err != nil {
			return nil, err
		}
	}

	svc, err := service.NewStyleService(service.Config{DataDir: cfg.DataDir, Journal: j, Logger: log})
	if err != nil {
		if j != nil {
			j.Close()
		}
		return nil, err
	}

	renderer, err := templates.New()
	if err != nil {
		svc.Close()
		if j != nil {
			j.Close()
		}
		return nil, fmt.Errorf("failed to parse fragments: %w", err)
	}
	if cfg.FragmentsDir != "" {
		if err := renderer.Reload(cfg.FragmentsDir); err != nil {
			log.Warnw("using embedded fragments", "dir", cfg.FragmentsDir, "error", err)
		} else {
			log.Infow("loaded fragment templates", "dir", cfg.FragmentsDir)
		}
	}

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-mapstyle API", api.Version)
	humaConfig.Info.Description = "Declarative map style session: declare a style document, watch it reconcile."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humago.New(mux, humaConfig),
		svc:     svc,
		journal: j,
		log:     log,
	}
	s.routes(renderer)
	return s, nil
}

func (s *Server) routes(renderer *templates.Renderer) {
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.svc, s.config.DataDir))
	api.NewDBHandler(s.journal).RegisterRoutes(s.humaAPI)
	api.NewInfoHandler(s.config.DataDir, s.journal != nil, s.svc.Styles()).RegisterRoutes(s.humaAPI)
	api.NewEventHandler(humastar.Handler{Renderer: renderer}, s.svc).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/", s.handleRoot)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Service returns the style session.
func (s *Server) Service() *service.StyleService {
	return s.svc
}

// Run drives the style session until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.svc.Run(ctx)
}

// Close stops the style session and closes the journal.
func (s *Server) Close() error {
	s.svc.Close()
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-mapstyle",
		"status":  "running",
		"docs":    "/docs",
	})
}
