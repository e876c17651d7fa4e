package ledger

// ClampedLine is a cart line after the advisory stock clamp.
type ClampedLine struct {
	ArticleID string
	Requested int
	Qty       int
}

// ClampCart reduces each requested quantity to min(requested, available)
// and drops lines whose available stock is zero. Best-effort UX only: a
// concurrent checkout may take the stock between this read and commit, so
// the transactional path re-verifies under lock.
func ClampCart(cart map[string]int, available map[string]int) (lines []ClampedLine, adjusted bool) {
	for id, wanted := range cart {
		if wanted <= 0 {
			adjusted = true
			continue
		}
		stock, ok := available[id]
		if !ok || stock <= 0 {
			adjusted = true
			continue
		}
		qty := wanted
		if qty > stock {
			qty = stock
			adjusted = true
		}
		lines = append(lines, ClampedLine{ArticleID: id, Requested: wanted, Qty: qty})
	}
	return lines, adjusted
}
