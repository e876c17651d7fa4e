package orders

import (
	"fmt"
	"math/rand"
	"time"
)

// NewReference builds a human-readable order reference such as
// MV-2025-000123. Uniqueness is enforced by the store; callers retry on
// conflict.
func NewReference(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, now.Year(), rand.Intn(999999)+1)
}
