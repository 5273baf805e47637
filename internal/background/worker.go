package background

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"github.com/remind-mem/remind/internal/model"
)

// Consolidator is the subset of consolidator.Consolidator the worker needs,
// kept narrow here to avoid an import cycle between background and the
// packages that assemble a full Memory façade.
type Consolidator interface {
	Consolidate(ctx context.Context, force bool) (*model.ConsolidationResult, error)
}

// NewWorkerLogger builds a rotating file logger under <dataDir>/logs,
// rotating daily with a 30-day retention, matching the teacher's
// pkg/log.Init but scoped to a single log file rather than the full
// application logging surface.
func NewWorkerLogger(dataDir string) (*slog.Logger, error) {
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	writer, err := rotatelogs.New(
		filepath.Join(logDir, "consolidation-%Y-%m-%d.log"),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(30*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("configure rotating log: %w", err)
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), nil
}

// RunWorker acquires the consolidation lock for dbPath, runs a single
// unforced consolidation cycle, and releases the lock, logging outcome and
// any failure rather than propagating it (this runs detached, with no
// caller left to observe a returned error).
func RunWorker(ctx context.Context, dataDir, dbPath string, c Consolidator, logger *slog.Logger) {
	lock, ok, err := TryAcquire(dataDir, dbPath)
	if err != nil {
		logger.Error("acquire consolidation lock failed", "db", dbPath, "error", err)
		return
	}
	if !ok {
		logger.Info("consolidation already running, skipping", "db", dbPath)
		return
	}
	defer lock.Release()

	logger.Info("starting background consolidation", "db", dbPath)

	result, err := c.Consolidate(ctx, false)
	if err != nil {
		logger.Error("background consolidation failed", "db", dbPath, "error", err)
		return
	}

	logger.Info("background consolidation complete",
		"db", dbPath,
		"episodes_processed", result.EpisodesProcessed,
		"concepts_created", result.ConceptsCreated,
		"concepts_updated", result.ConceptsUpdated,
	)
}
