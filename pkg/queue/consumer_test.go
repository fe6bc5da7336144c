package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/sequence-dialer/internal/domain"
)

type recordingAck struct {
	acked    bool
	nacked   bool
	requeued bool
	rejected bool
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	a.rejected = true
	return nil
}

func newDelivery(body string, redelivered bool) (amqp.Delivery, *recordingAck) {
	ack := &recordingAck{}
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body), Redelivered: redelivered, DeliveryTag: 1}, ack
}

func TestDecode(t *testing.T) {
	transcript, err := decode([]byte(`{"callId":"call-1","entryId":"e1","transcript":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.CallTranscript{CallID: "call-1", EntryID: "e1", Transcript: "hi"}, transcript)

	_, err = decode([]byte(`{"callId":`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = decode([]byte(`{"callId":"call-1"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestProcess_AcksHandledMessage(t *testing.T) {
	var handled []string
	c := &Consumer{handle: func(ctx context.Context, transcript domain.CallTranscript) error {
		handled = append(handled, transcript.CallID)
		return nil
	}}

	d, ack := newDelivery(`{"callId":"call-1","transcript":"hi"}`, false)
	c.process(context.Background(), d)

	assert.Equal(t, []string{"call-1"}, handled)
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}

func TestProcess_RejectsMalformedMessage(t *testing.T) {
	c := &Consumer{handle: func(ctx context.Context, transcript domain.CallTranscript) error {
		t.Fatalf("handler must not be called for a malformed message")
		return nil
	}}

	d, ack := newDelivery(`not json`, false)
	c.process(context.Background(), d)

	assert.True(t, ack.rejected)
	assert.False(t, ack.acked)
}

func TestProcess_RequeuesFailureOnce(t *testing.T) {
	c := &Consumer{handle: func(ctx context.Context, transcript domain.CallTranscript) error {
		return errors.New("analyzer unavailable")
	}}

	first, firstAck := newDelivery(`{"callId":"call-1","transcript":"hi"}`, false)
	c.process(context.Background(), first)
	assert.True(t, firstAck.nacked)
	assert.True(t, firstAck.requeued)

	second, secondAck := newDelivery(`{"callId":"call-1","transcript":"hi"}`, true)
	c.process(context.Background(), second)
	assert.True(t, secondAck.nacked)
	assert.False(t, secondAck.requeued)
}
