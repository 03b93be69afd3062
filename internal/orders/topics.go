package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
)

// TopicFor maps an event type to the topic it is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventOrderStatusChanged:
		return TopicOrderStatusChanged
	}
	return ""
}

// PartitionKey = order_id, supaya semua event 1 order maintain urutan.
func (e Envelope) PartitionKey() []byte { return []byte(e.CorrelationID) }

func Topics() []string { return []string{TopicOrderCreated, TopicOrderStatusChanged} }
