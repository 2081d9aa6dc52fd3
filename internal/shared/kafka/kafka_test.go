package kafka

import (
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, Brokers(" a:9092, ,b:9092,"))
	assert.Nil(t, Brokers(""))
}

func TestNewWriter_EmptyTopicDisablesWriter(t *testing.T) {
	assert.Nil(t, NewWriter("a:9092", ""))

	w := NewWriter("a:9092,b:9092", "order_matched")
	assert.Equal(t, "order_matched", w.Topic)
}

func TestNewAsyncWriter(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	assert.Nil(t, NewAsyncWriter(log, "a:9092", ""))

	w := NewAsyncWriter(log, "a:9092", "user_updated")
	require.NotNil(t, w)
	assert.True(t, w.Async)
	require.NotNil(t, w.Completion)

	w.Completion([]kafka.Message{{}}, nil)
	assert.Zero(t, logs.Len())

	w.Completion([]kafka.Message{{}, {}}, errors.New("broker down"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kafka async write failed", entry.Message)
	assert.Equal(t, "user_updated", entry.ContextMap()["topic"])
	assert.EqualValues(t, 2, entry.ContextMap()["messages"])
}
