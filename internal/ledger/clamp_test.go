package ledger

import "testing"

func findLine(lines []ClampedLine, id string) *ClampedLine {
	for i := range lines {
		if lines[i].ArticleID == id {
			return &lines[i]
		}
	}
	return nil
}

func TestClampCartNoAdjustment(t *testing.T) {
	lines, adjusted := ClampCart(
		map[string]int{"a": 2, "b": 1},
		map[string]int{"a": 5, "b": 1},
	)
	if adjusted {
		t.Fatal("nothing should have been adjusted")
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if l := findLine(lines, "a"); l == nil || l.Qty != 2 {
		t.Fatalf("line a = %+v, want qty 2", l)
	}
}

func TestClampCartLowersQuantity(t *testing.T) {
	lines, adjusted := ClampCart(
		map[string]int{"a": 5},
		map[string]int{"a": 3},
	)
	if !adjusted {
		t.Fatal("expected adjustment")
	}
	l := findLine(lines, "a")
	if l == nil || l.Qty != 3 || l.Requested != 5 {
		t.Fatalf("line a = %+v, want qty 3 requested 5", l)
	}
}

func TestClampCartDropsUnavailable(t *testing.T) {
	lines, adjusted := ClampCart(
		map[string]int{"gone": 1, "empty": 2, "ok": 1},
		map[string]int{"empty": 0, "ok": 4},
	)
	if !adjusted {
		t.Fatal("expected adjustment")
	}
	if len(lines) != 1 || lines[0].ArticleID != "ok" {
		t.Fatalf("lines = %+v, want only the available article", lines)
	}
}

func TestClampCartEmpty(t *testing.T) {
	lines, adjusted := ClampCart(map[string]int{}, map[string]int{})
	if adjusted || len(lines) != 0 {
		t.Fatalf("empty cart should clamp to nothing, got %+v adjusted=%t", lines, adjusted)
	}
}
