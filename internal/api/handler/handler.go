package handler

import (
	"log/slog"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
	"github.com/murdok1982/hispanshield/internal/api/storage"
	"github.com/murdok1982/hispanshield/internal/artifact"
	"github.com/murdok1982/hispanshield/shared/postgresql"
	"github.com/murdok1982/hispanshield/shared/rabbitmq"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
	Artifacts    *artifact.Store
	DefaultMode  domain.AnalysisMode
	MaxUploadMB  int64
}

// AnalysisHandler handles analysis-related HTTP requests
type AnalysisHandler struct {
	logger       *slog.Logger
	storage      *storage.Storage
	rabbitClient *rabbitmq.Client
	artifacts    *artifact.Store
	defaultMode  domain.AnalysisMode
	maxUploadMB  int64
}

// NewAnalysisHandler creates a new AnalysisHandler instance
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	mode := deps.DefaultMode
	if !mode.Valid() {
		mode = domain.ModeFull
	}

	maxUpload := deps.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 64
	}

	return &AnalysisHandler{
		logger:       deps.Logger,
		storage:      storage.NewStorage(deps.DBClient),
		rabbitClient: deps.RabbitClient,
		artifacts:    deps.Artifacts,
		defaultMode:  mode,
		maxUploadMB:  maxUpload,
	}
}
