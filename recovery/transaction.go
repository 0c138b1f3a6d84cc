package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/checkpoint"
)

// TransactionStatus records how a transaction ended.
type TransactionStatus string

const (
	// TransactionCommitted means the body completed and the bracketing
	// checkpoint was not needed.
	TransactionCommitted TransactionStatus = "committed"
	// TransactionRolledBack means the body failed and state was restored
	// from the bracketing checkpoint.
	TransactionRolledBack TransactionStatus = "rolled_back"
)

// TransactionRecord is the bookkeeping entry for one transaction.
type TransactionRecord struct {
	ID           string
	WorkflowID   string
	StepID       string
	CheckpointID string
	Status       TransactionStatus
	StartTime    time.Time
	EndTime      time.Time
	Err          error
}

// TransactionManager brackets step bodies with transactional semantics: a
// transactional checkpoint is taken on entry; on error the checkpoint is
// restored and the error re-raised; on success the commit is a no-op beyond
// releasing the bookkeeping.
type TransactionManager struct {
	checkpoints *checkpoint.Manager

	mu     sync.Mutex
	recent []TransactionRecord

	logger hclog.Logger
}

// NewTransactionManager builds a transaction manager over the checkpoint
// manager.
func NewTransactionManager(cm *checkpoint.Manager, logger hclog.Logger) *TransactionManager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &TransactionManager{checkpoints: cm, logger: logger}
}

// maxTransactionRecords bounds the retained transaction history.
const maxTransactionRecords = 256

// Transaction runs fn inside a transaction for (workflowID, stepID). On
// error from fn, the state store is restored to the entry checkpoint and
// the error is returned. Restore failures are logged; the original error
// from fn still propagates.
func (tm *TransactionManager) Transaction(ctx context.Context, workflowID, stepID string, fn func(ctx context.Context) error) error {
	txID := fmt.Sprintf("%s_%s_%s", workflowID, stepID, uuid.NewString())
	cp, err := tm.checkpoints.Create(workflowID, stepID, checkpoint.KindTransactional,
		map[string]any{"transaction_id": txID})
	if err != nil {
		return fmt.Errorf("transaction checkpoint: %w", err)
	}

	rec := TransactionRecord{
		ID:           txID,
		WorkflowID:   workflowID,
		StepID:       stepID,
		CheckpointID: cp.ID,
		StartTime:    time.Now(),
	}

	err = fn(ctx)
	rec.EndTime = time.Now()
	if err != nil {
		tm.logger.Warn("transaction failed, rolling back",
			"transaction_id", txID, "step_id", stepID, "error", err)
		if rerr := tm.checkpoints.Restore(cp.ID); rerr != nil {
			tm.logger.Error("transaction rollback failed", "transaction_id", txID, "error", rerr)
		}
		rec.Status = TransactionRolledBack
		rec.Err = err
	} else {
		rec.Status = TransactionCommitted
	}

	tm.mu.Lock()
	tm.recent = append(tm.recent, rec)
	if len(tm.recent) > maxTransactionRecords {
		tm.recent = tm.recent[len(tm.recent)-maxTransactionRecords:]
	}
	tm.mu.Unlock()

	return err
}

// Recent returns the retained transaction records, oldest first.
func (tm *TransactionManager) Recent() []TransactionRecord {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]TransactionRecord, len(tm.recent))
	copy(out, tm.recent)
	return out
}
