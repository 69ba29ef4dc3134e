package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
)

// Worker runs the goods-flow task handlers and, when cron entries are
// configured, the scheduler that feeds them.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules a prepared task on a cron expression (UTC).
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

const defaultConcurrency = 5

// NewWorker validates the handler and cron tables and builds the worker.
// Duplicate or incomplete registrations are configuration errors.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	mux := asynq.NewServeMux()
	seen := make(map[string]bool, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, fmt.Errorf("jobs: incomplete handler registration %q", h.Type)
		}
		if seen[h.Type] {
			return nil, fmt.Errorf("jobs: duplicate handler for %s", h.Type)
		}
		seen[h.Type] = true
		mux.HandleFunc(h.Type, h.Handler)
	}

	w := &Worker{
		mux:    mux,
		logger: logger,
		server: asynq.NewServer(cfg.RedisOpts, asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      map[string]int{QueueDefault: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				logger.Warn("task failed", slog.String("type", task.Type()), slog.Any("error", err))
			}),
		}),
	}

	if len(cfg.Cron) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
	for _, entry := range cfg.Cron {
		if entry.Task == nil || !seen[entry.Task.Type()] {
			return nil, fmt.Errorf("jobs: cron entry %q has no registered handler", entry.Spec)
		}
		id, err := w.scheduler.Register(entry.Spec, entry.Task, entry.Options...)
		if err != nil {
			return nil, fmt.Errorf("jobs: register cron %q: %w", entry.Spec, err)
		}
		logger.Info("cron registered", slog.String("type", entry.Task.Type()), slog.String("spec", entry.Spec), slog.String("entry_id", id))
	}
	return w, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight tasks.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	defer w.server.Shutdown()

	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
		defer w.scheduler.Shutdown()
	}

	w.logger.Info("worker started")
	<-ctx.Done()
	w.logger.Info("worker stopping")
	return ctx.Err()
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits jobs to the queue. It implements outbound.InvalidationQueue.
type Client struct {
	client enqueuer
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueCacheInvalidation schedules a retry of a failed prefix invalidation.
func (c *Client) EnqueueCacheInvalidation(ctx context.Context, prefix string) error {
	task, err := NewCacheInvalidateTask(prefix)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.ProcessIn(time.Second))
	return err
}

// EnqueueReconcile queues an out-of-schedule reconciliation run.
func (c *Client) EnqueueReconcile(ctx context.Context, pageSize int) (*asynq.TaskInfo, error) {
	task, err := NewReconcileTask(pageSize)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueInspector is implemented by *asynq.Inspector.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Retry     int    `json:"retry"`
	Scheduled int    `json:"scheduled"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueDefault)
		if err != nil {
			h.logger.Warn("jobs health", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		if info != nil {
			out = queueHealth{Queue: info.Queue, Pending: info.Pending, Retry: info.Retry, Scheduled: info.Scheduled}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
