package qdrant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcriptrag/internal/domain"
)

func TestPointID_StableAndDistinct(t *testing.T) {
	a := PointID("Founders Panel_0")
	assert.Equal(t, a, PointID("Founders Panel_0"))
	assert.NotEqual(t, a, PointID("Founders Panel_1"))

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestPayloadRoundTrip(t *testing.T) {
	e := domain.IndexEntry{
		Vector:  []float32{1, 2},
		Content: "Cats are mammals.",
		Metadata: domain.ChunkMetadata{
			Title: "A", ChunkIndex: 2, TotalChunks: 3, WordCount: 3,
		},
	}

	r := fromPayload(toPayload(e))

	assert.Equal(t, e.Content, r.Content)
	assert.Equal(t, e.Metadata, r.Metadata)
}

func TestFromPayload_MissingFields(t *testing.T) {
	r := fromPayload(nil)
	assert.Empty(t, r.Content)
	assert.Zero(t, r.Metadata.ChunkIndex)
}

func TestOpen_RequiresCollection(t *testing.T) {
	_, err := Open(context.Background(), Config{Addr: "localhost:6334"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
