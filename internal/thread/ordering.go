// Package thread provides pure transformations over ordered message lists:
// deterministic sorting and render-plan grouping.
package thread

import (
	"fmt"
	"sort"

	"gigsync/internal/models"
)

// SortMessages returns a new slice sorted ascending by CreatedAt. The input is
// not mutated and duplicates are preserved; dedup is the caller's concern.
// The sort is stable, so messages with equal timestamps keep their relative
// order. A message with a zero CreatedAt is rejected outright instead of being
// allowed to float to an arbitrary position.
func SortMessages(msgs []models.Message) ([]models.Message, error) {
	for i := range msgs {
		if msgs[i].CreatedAt.IsZero() {
			return nil, models.NewValidationError(fmt.Sprintf("message %d has no timestamp", msgs[i].ID))
		}
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
