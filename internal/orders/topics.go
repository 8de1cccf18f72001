package orders

const (
	TopicOrderCreated       = "order.created"
	TopicPaymentInitialized = "payment.initialized"
	TopicPaymentConfirmed   = "payment.confirmed"
	TopicPaymentFailed      = "payment.failed"
)

// PaymentTopics are the topics the payment event log consumes.
var PaymentTopics = []string{TopicPaymentInitialized, TopicPaymentConfirmed, TopicPaymentFailed}

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
