package jobs

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile replays every stock row against its movement log.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskCacheInvalidate retries a cache prefix invalidation that failed inline.
	TaskCacheInvalidate = "outbound:cache-invalidate"
)

// ReconcilePayload configures one reconciliation run.
type ReconcilePayload struct {
	PageSize int `json:"page_size"`
}

// NewReconcileTask constructs the reconciliation task.
func NewReconcileTask(pageSize int) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{PageSize: pageSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault)), nil
}

// CacheInvalidatePayload names the key prefix to drop.
type CacheInvalidatePayload struct {
	Prefix string `json:"prefix"`
}

// NewCacheInvalidateTask constructs an invalidation task for prefix.
func NewCacheInvalidateTask(prefix string) (*asynq.Task, error) {
	body, err := json.Marshal(CacheInvalidatePayload{Prefix: strings.TrimSpace(prefix)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheInvalidate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}
