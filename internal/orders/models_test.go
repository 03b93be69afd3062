package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistinctProductIDs(t *testing.T) {
	items := []ItemInput{{ProductID: 5, Quantity: 1}, {ProductID: 2, Quantity: 1}, {ProductID: 5, Quantity: 3}, {ProductID: 9, Quantity: 1}}
	assert.Equal(t, []int64{2, 5, 9}, DistinctProductIDs(items))
	assert.Empty(t, DistinctProductIDs(nil))
}

func TestEnvelopeRouting(t *testing.T) {
	assert.Equal(t, TopicOrderCreated, TopicFor(EventOrderCreated))
	assert.Equal(t, TopicOrderStatusChanged, TopicFor(EventOrderStatusChanged))
	assert.Empty(t, TopicFor("Nope"))
	assert.Equal(t, []byte("12"), Envelope{CorrelationID: "12"}.PartitionKey())
}
