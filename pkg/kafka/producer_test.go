package kafka

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	err := p.Publish(context.Background(), []byte("id-1"), []byte(`{"id":"id-1"}`), map[string]string{
		"event_type": "image.ingested",
		"image_id":   "id-1",
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "id-1", string(msg.Key))
	assert.Equal(t, []kafkago.Header{
		{Key: "event_type", Value: []byte("image.ingested")},
		{Key: "image_id", Value: []byte("id-1")},
	}, msg.Headers)
	assert.False(t, msg.Time.IsZero())

	require.NoError(t, p.Close(context.Background()))
	assert.True(t, w.closed)
}

func TestPublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &Producer{writer: w}
	assert.Error(t, p.Publish(context.Background(), nil, nil, nil))
}

func TestCompressionFromString(t *testing.T) {
	assert.Equal(t, kafkago.Gzip, CompressionFromString("GZIP"))
	assert.Equal(t, kafkago.Zstd, CompressionFromString("zstd"))
	assert.Equal(t, kafkago.Snappy, CompressionFromString("unknown"))
}
