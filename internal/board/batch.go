package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/storage"
)

const maxBatchOps = 100

// BatchOp is one create or update in a batch request.
type BatchOp struct {
	Action string          `json:"action"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

type BatchResult struct {
	OK    bool          `json:"ok"`
	Item  *storage.Item `json:"item,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Batch runs each operation in its own transaction and reports per-op
// results. A failed op does not undo the others. The board is notified
// once if anything changed.
func (s *Service) Batch(ctx context.Context, caller auth.Caller, ops []BatchOp) ([]BatchResult, error) {
	if len(ops) == 0 || len(ops) > maxBatchOps {
		return nil, invalid("operations", "must contain between 1 and %d operations", maxBatchOps)
	}

	results := make([]BatchResult, len(ops))
	changed := false
	for i, op := range ops {
		item, err := s.runBatchOp(ctx, caller, op)
		if err != nil {
			results[i] = BatchResult{Error: batchErrorCode(err)}
			continue
		}
		results[i] = BatchResult{OK: true, Item: &item}
		changed = true
	}
	if changed {
		s.notifier.ItemsChanged(caller.UserID)
	}
	return results, nil
}

func (s *Service) runBatchOp(ctx context.Context, caller auth.Caller, op BatchOp) (storage.Item, error) {
	var item storage.Item
	switch op.Action {
	case "create":
		var in NewItem
		if err := json.Unmarshal(op.Data, &in); err != nil {
			return storage.Item{}, invalid("data", "%v", err)
		}
		err := s.store.WithTx(ctx, func(q *storage.Queries) error {
			var err error
			item, err = s.CreateItemTx(ctx, q, caller, in)
			return err
		})
		return item, err
	case "update":
		if op.ID == "" {
			return storage.Item{}, invalid("id", "required for update")
		}
		var p Patch
		if err := json.Unmarshal(op.Data, &p); err != nil {
			return storage.Item{}, invalid("data", "%v", err)
		}
		err := s.store.WithTx(ctx, func(q *storage.Queries) error {
			var err error
			item, err = s.PatchItemTx(ctx, q, caller, op.ID, p)
			return err
		})
		return item, err
	default:
		return storage.Item{}, invalid("action", "unknown action %q", op.Action)
	}
}

func batchErrorCode(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("VALIDATION_ERROR: %s", verr.Error())
	case errors.Is(err, storage.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrNoFieldsProvided):
		return "NO_FIELDS_PROVIDED"
	case errors.Is(err, ErrDoneNoteRequired):
		return "DONE_NOTE_REQUIRED"
	case errors.Is(err, ErrDropNoteRequired):
		return "DROP_NOTE_REQUIRED"
	default:
		return "INTERNAL_ERROR"
	}
}
