package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/orchestrator"
	"github.com/shaiso/stepflow/internal/scheduler"
	"github.com/shaiso/stepflow/internal/telemetry"
)

// DefinitionStore сохраняет определения между перезапусками
// (реализуется repo.DefinitionRepo).
type DefinitionStore interface {
	Save(ctx context.Context, sm *domain.StateMachine) error
	Delete(ctx context.Context, name string) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch        *orchestrator.Orchestrator
	definitions DefinitionStore
	scheduler   *scheduler.Scheduler
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator // обязательно
	Definitions  DefinitionStore            // опционально
	Scheduler    *scheduler.Scheduler       // опционально
	Metrics      *telemetry.Metrics         // опционально
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:        cfg.Orchestrator,
		definitions: cfg.Definitions,
		scheduler:   cfg.Scheduler,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}
