package orders

const TopicOrderLifecycle = "payment.order.lifecycle"

// Partition key = order number so every event of one order keeps its order.
func PartitionKey(orderNumber string) []byte { return []byte(orderNumber) }
