package svdag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/svdag/blobstore"
	"github.com/hupe1980/svdag/internal/builder"
	"github.com/hupe1980/svdag/internal/nodetable"
	"github.com/hupe1980/svdag/internal/residency"
	"github.com/hupe1980/svdag/internal/snapshot"
	"github.com/hupe1980/svdag/region"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"table not found", fmt.Errorf("get: %w", nodetable.ErrNotFound), ErrNotFound},
		{"residency not found", residency.ErrNotFound, ErrNotFound},
		{"missing blob", fmt.Errorf("open x: %w", blobstore.ErrNotFound), ErrNotFound},
		{"region full", region.ErrRegionFull, ErrRegionFull},
		{"corrupt snapshot", snapshot.ErrCorrupt, ErrCorruptSnapshot},
		{"unsupported snapshot", snapshot.ErrUnsupported, ErrCorruptSnapshot},
		{"snapshot option", snapshot.ErrInvalidOption, ErrInvalidOption},
		{"blob name", fmt.Errorf("put: %w", blobstore.ErrInvalidName), ErrInvalidOption},
		{"conflict", blobstore.ErrConflict, ErrConflict},
		{"closed region", region.ErrClosed, ErrClosed},
		{"plain geometry", builder.ErrInvalidGeometry, ErrInvalidGeometry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateError(tt.in)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, tt.in, "cause is kept")
		})
	}

	other := errors.New("boom")
	assert.Same(t, other, translateError(other))
}

func TestTranslateError_Typed(t *testing.T) {
	ge := &builder.GeometryError{Extent: 12, Depth: 2, Reason: "extent is not a power of two"}
	err := translateError(fmt.Errorf("build: %w", ge))

	var ige *InvalidGeometryError
	require.ErrorAs(t, err, &ige)
	assert.Equal(t, uint32(12), ige.Extent)
	assert.Equal(t, 2, ige.Depth)
	require.ErrorIs(t, err, ErrInvalidGeometry)
	require.ErrorIs(t, err, builder.ErrInvalidGeometry)

	oob := &residency.OutOfBudgetError{Required: 80, Budget: 64, Blocked: true}
	err = translateError(oob)

	var pub *OutOfBudgetError
	require.ErrorAs(t, err, &pub)
	assert.Equal(t, 80, pub.Required)
	assert.Equal(t, int64(64), pub.Budget)
	assert.True(t, pub.Blocked)
	assert.Contains(t, pub.Error(), "pinned")
	require.ErrorIs(t, err, ErrOutOfBudget)
	require.ErrorIs(t, err, residency.ErrOutOfBudget)
}
