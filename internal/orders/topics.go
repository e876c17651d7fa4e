package orders

const (
	TopicOrderCreated  = "order.created"
	TopicOrderPaid     = "order.paid"
	TopicPaymentFailed = "order.payment.failed"
	TopicOrderCanceled = "order.canceled"
	TopicOrderStatus   = "order.status"
	TopicNotifications = "shop.notifications"
)

// Partition key = order_id so all events for one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
