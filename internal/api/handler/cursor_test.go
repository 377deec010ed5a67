package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediadash/orchestrator/internal/orchestrator/storage"
)

func TestJobCursorRoundTrip(t *testing.T) {
	original := &storage.Cursor{
		CreatedAt: time.Date(2026, 8, 12, 10, 30, 0, 123456789, time.UTC),
		JobID:     "88888888-8888-8888-8888-888888888888",
	}

	encoded, err := EncodeJobCursor(original)
	require.NoError(t, err)

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, original.JobID, decoded.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	t.Run("empty string means no cursor", func(t *testing.T) {
		cursor, err := DecodeJobCursor("")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := DecodeJobCursor("!!not-base64!!")
		assert.Error(t, err)
	})

	t.Run("wrong part count", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte("12345"))
		_, err := DecodeJobCursor(encoded)
		assert.Error(t, err)
	})

	t.Run("non-numeric timestamp", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte("yesterday|job-1"))
		_, err := DecodeJobCursor(encoded)
		assert.Error(t, err)
	})
}
