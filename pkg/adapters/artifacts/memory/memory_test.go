package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/forksnd/convey/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	s := NewArtifactStore()
	ctx := context.Background()

	blob := []byte("wheel-1.5.0.whl contents")
	ref, err := s.Put(ctx, "run-1", "build-wheel", blob)
	require.NoError(t, err)
	assert.Equal(t, "run-1", ref.RunID)
	assert.Equal(t, "build-wheel", ref.Stage)

	got, meta, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	sum := sha256.Sum256(blob)
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.SHA256)
	assert.Equal(t, int64(len(blob)), meta.Size)
}

func TestDuplicateWriteConflicts(t *testing.T) {
	s := NewArtifactStore()
	ctx := context.Background()

	_, err := s.Put(ctx, "run-1", "build-wheel", []byte("first"))
	require.NoError(t, err)

	_, err = s.Put(ctx, "run-1", "build-wheel", []byte("second"))
	require.ErrorIs(t, err, domain.ErrArtifactConflict)

	// The first write is untouched.
	got, _, err := s.Get(ctx, domain.ArtifactRef{RunID: "run-1", Stage: "build-wheel"})
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	// Same stage in another run is a separate key.
	_, err = s.Put(ctx, "run-2", "build-wheel", []byte("other run"))
	assert.NoError(t, err)
}

func TestUnknownRefNotFound(t *testing.T) {
	s := NewArtifactStore()
	ctx := context.Background()

	ref := domain.ArtifactRef{RunID: "run-1", Stage: "nope"}

	_, _, err := s.Get(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)

	_, err = s.Stat(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewArtifactStore()
	ctx := context.Background()

	ref, err := s.Put(ctx, "run-1", "build", []byte("immutable"))
	require.NoError(t, err)

	got, _, err := s.Get(ctx, ref)
	require.NoError(t, err)
	got[0] = 'X'

	again, _, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), again)
}
