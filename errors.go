package svdag

import (
	"errors"
	"fmt"

	"github.com/hupe1980/svdag/blobstore"
	"github.com/hupe1980/svdag/internal/builder"
	"github.com/hupe1980/svdag/internal/nodetable"
	"github.com/hupe1980/svdag/internal/residency"
	"github.com/hupe1980/svdag/internal/snapshot"
	"github.com/hupe1980/svdag/region"
)

var (
	// ErrInvalidGeometry is returned when extent and depth do not describe
	// an octree. No DAG is produced.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrNotFound is returned for node keys that are not interned, usually
	// a stale key used after its scene was released.
	ErrNotFound = errors.New("not found")

	// ErrOutOfBudget is returned when a node cannot be made resident
	// under the configured budget.
	ErrOutOfBudget = errors.New("out of budget")

	// ErrRegionFull is returned by the shared region when no slot is free.
	// The residency manager retries once after evicting, so it only
	// surfaces wrapped in ErrOutOfBudget.
	ErrRegionFull = errors.New("region full")

	// ErrNotLeaf is returned by LeafPayload for internal nodes.
	ErrNotLeaf = errors.New("node is not a leaf")

	// ErrCorruptSnapshot is returned when a snapshot fails validation.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrInvalidOption is returned by Open for unusable options.
	ErrInvalidOption = errors.New("invalid option")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scene closed")

	// ErrConflict is returned by Save when another writer committed first.
	ErrConflict = errors.New("concurrent commit")
)

// InvalidGeometryError reports an unusable extent/depth pair.
//
// The original underlying error can be accessed via errors.Unwrap.
type InvalidGeometryError struct {
	Extent uint32
	Depth  int
	cause  error
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid geometry: extent %d, depth %d", e.Extent, e.Depth)
}

func (e *InvalidGeometryError) Unwrap() []error { return []error{ErrInvalidGeometry, e.cause} }

// OutOfBudgetError reports a node that could not be admitted.
// Blocked is set when the budget would suffice but pinned nodes hold it.
//
// The original underlying error can be accessed via errors.Unwrap.
type OutOfBudgetError struct {
	Required int
	Budget   int64
	Blocked  bool
	cause    error
}

func (e *OutOfBudgetError) Error() string {
	msg := fmt.Sprintf("out of budget: node needs %d bytes, budget %d", e.Required, e.Budget)
	if e.Blocked {
		msg += " (held by pinned nodes)"
	}
	return msg
}

func (e *OutOfBudgetError) Unwrap() []error { return []error{ErrOutOfBudget, e.cause} }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ge *builder.GeometryError
	if errors.As(err, &ge) {
		return &InvalidGeometryError{Extent: ge.Extent, Depth: ge.Depth, cause: err}
	}
	if errors.Is(err, builder.ErrInvalidGeometry) {
		return fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
	}

	var oob *residency.OutOfBudgetError
	if errors.As(err, &oob) {
		return &OutOfBudgetError{Required: oob.Required, Budget: oob.Budget, Blocked: oob.Blocked, cause: err}
	}

	// Not found unification.
	if errors.Is(err, nodetable.ErrNotFound) || errors.Is(err, residency.ErrNotFound) || errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, region.ErrRegionFull) {
		return fmt.Errorf("%w: %w", ErrRegionFull, err)
	}
	if errors.Is(err, snapshot.ErrCorrupt) || errors.Is(err, snapshot.ErrUnsupported) {
		return fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if errors.Is(err, snapshot.ErrInvalidOption) || errors.Is(err, blobstore.ErrInvalidName) {
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}
	if errors.Is(err, blobstore.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	if errors.Is(err, region.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
