package orders

import (
	"regexp"
	"testing"
	"time"
)

func TestNewReferenceFormat(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	re := regexp.MustCompile(`^MV-2025-\d{6}$`)
	for i := 0; i < 50; i++ {
		ref := NewReference("MV", now)
		if !re.MatchString(ref) {
			t.Fatalf("reference %q does not match expected format", ref)
		}
	}
}
