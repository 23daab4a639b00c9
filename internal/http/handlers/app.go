package handlers

import (
	"encoding/json"
	"net/http"

	"clownify/internal/infra"
	"clownify/internal/pipeline"
	"clownify/internal/storage"
)

// App bundles the dependencies handlers need.
type App struct {
	Cfg      *infra.Config
	Logger   infra.Logger
	Pipeline *pipeline.Controller
	Store    *storage.FileStore
}

// NewApp wires the handler container.
func NewApp(cfg *infra.Config, logger infra.Logger, ctrl *pipeline.Controller, store *storage.FileStore) *App {
	return &App{Cfg: cfg, Logger: logger, Pipeline: ctrl, Store: store}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
