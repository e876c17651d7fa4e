package redisx

import "time"

const (
	// Session cart: cart:{session_id} -> hash article_id -> qty
	KeyCart = "cart:%s"

	// Order status read cache: order_status:{order_id} -> OrderStatusEntry JSON
	KeyOrderStatus = "order_status:%s"

	// Webhook event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCart        = 7 * 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
