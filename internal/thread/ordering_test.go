package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigsync/internal/models"
)

func msgAt(id uint, sender uint, t time.Time) models.Message {
	return models.Message{ID: id, SenderID: sender, CreatedAt: t}
}

func TestSortMessagesAscending(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	input := []models.Message{
		msgAt(3, 1, base.Add(2*time.Minute)),
		msgAt(1, 1, base),
		msgAt(2, 2, base.Add(time.Minute)),
	}

	sorted, err := SortMessages(input)
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Equal(t, uint(1), sorted[0].ID)
	assert.Equal(t, uint(2), sorted[1].ID)
	assert.Equal(t, uint(3), sorted[2].ID)
}

func TestSortMessagesStableOnEqualTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	input := []models.Message{
		msgAt(10, 1, base),
		msgAt(11, 2, base),
		msgAt(12, 1, base),
	}

	sorted, err := SortMessages(input)
	require.NoError(t, err)
	assert.Equal(t, uint(10), sorted[0].ID)
	assert.Equal(t, uint(11), sorted[1].ID)
	assert.Equal(t, uint(12), sorted[2].ID)
}

func TestSortMessagesRejectsZeroTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	input := []models.Message{
		msgAt(1, 1, base),
		{ID: 2, SenderID: 1}, // zero CreatedAt
	}

	sorted, err := SortMessages(input)
	assert.Nil(t, sorted)
	require.Error(t, err)

	appErr, ok := err.(*models.AppError)
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestSortMessagesDoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	input := []models.Message{
		msgAt(2, 1, base.Add(time.Minute)),
		msgAt(1, 1, base),
	}

	_, err := SortMessages(input)
	require.NoError(t, err)
	assert.Equal(t, uint(2), input[0].ID)
	assert.Equal(t, uint(1), input[1].ID)
}

func TestSortMessagesPreservesDuplicates(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	input := []models.Message{
		msgAt(1, 1, base),
		msgAt(1, 1, base),
	}

	sorted, err := SortMessages(input)
	require.NoError(t, err)
	assert.Len(t, sorted, 2)
}

func TestSortMessagesEmpty(t *testing.T) {
	sorted, err := SortMessages(nil)
	require.NoError(t, err)
	assert.Empty(t, sorted)
}
