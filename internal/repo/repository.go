package repo

import (
	"context"
	"errors"

	"github.com/hamed0406/proxychecker/internal/domain"
)

// HistoryCap is the number of probe results kept per target.
const HistoryCap = 100

var ErrNotFound = errors.New("not found")

// Ports (interfaces) implemented by the memory, sqlite and postgres adapters.

// TargetStore is the target registry.
type TargetStore interface {
	Create(ctx context.Context, in domain.TargetInput) (domain.Target, error)
	// Update returns ErrNotFound when the target does not exist.
	Update(ctx context.Context, id domain.TargetID, p domain.TargetPatch) (domain.Target, error)
	// Delete removes the target and its history in one step.
	Delete(ctx context.Context, id domain.TargetID) error
	Get(ctx context.Context, id domain.TargetID) (domain.Target, error)
	List(ctx context.Context) ([]domain.Target, error)
	ListByKind(ctx context.Context, kind domain.Kind) ([]domain.Target, error)
}

// HistoryStore keeps the newest HistoryCap results per target. Append and
// its pruning are one atomic unit for readers.
type HistoryStore interface {
	Append(ctx context.Context, id domain.TargetID, r domain.ProbeResult) error
	// Recent returns up to limit results, newest first.
	Recent(ctx context.Context, id domain.TargetID, limit int) ([]domain.ProbeResult, error)
	// Latest returns ErrNotFound when the target has no history.
	Latest(ctx context.Context, id domain.TargetID) (domain.ProbeResult, error)
	Clear(ctx context.Context, id domain.TargetID) error
}

// ClampLimit bounds a caller-supplied limit to [1, HistoryCap].
func ClampLimit(limit int) int {
	if limit <= 0 || limit > HistoryCap {
		return HistoryCap
	}
	return limit
}
