package stream

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

type closeBuffer struct {
	bytes.Buffer
	closed int
}

func (b *closeBuffer) Close() error {
	b.closed++
	return nil
}

func rawEvent(s string) *schema.Event {
	return &schema.Event{Kind: schema.EventRawFile, RawFile: []byte(s)}
}

func TestRaw_StopDrainsTail(t *testing.T) {
	sc := newScript(rawEvent("head"), rawEvent("-body"))
	sc.tail = []*schema.Event{rawEvent("-tail")}
	conn := sc.dial(t)

	out := &closeBuffer{}
	s, err := SubscribeRaw(testContext(t), conn, nil, out)
	require.NoError(t, err)

	req := <-sc.requests
	assert.Equal(t, schema.SubscribeRawFile, req.Subscription.Kind)
	require.NotNil(t, req.Subscription.RawFile)

	for _, want := range []string{"head", "-body"} {
		b, err := s.Receive(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}

	rest, err := s.Stop(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "-tail", string(rest))
	assert.Equal(t, "head-body-tail", out.String())
	assert.Equal(t, 1, out.closed)

	unsub := <-sc.requests
	assert.Equal(t, schema.RequestUnsubscribe, unsub.Kind)

	_, err = s.Receive(testContext(t))
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestRaw_DeviceEndsStream(t *testing.T) {
	sc := newScript(rawEvent("all"), &schema.Event{Kind: schema.EventEndOfStream})
	conn := sc.dial(t)

	s, err := SubscribeRaw(testContext(t), conn, nil, nil)
	require.NoError(t, err)

	b, err := s.Receive(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "all", string(b))

	_, err = s.Receive(testContext(t))
	require.ErrorIs(t, err, ErrEndOfStream)

	rest, err := s.Stop(testContext(t))
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestRaw_CancelClosesOutput(t *testing.T) {
	sc := newScript(rawEvent("head"))
	conn := sc.dial(t)

	out := &closeBuffer{}
	s, err := SubscribeRaw(testContext(t), conn, nil, out)
	require.NoError(t, err)
	b, err := s.Receive(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "head", string(b))

	ctx, cancel := context.WithTimeout(testContext(t), 20*time.Millisecond)
	defer cancel()
	_, err = s.Receive(ctx)
	require.ErrorIs(t, err, ErrClosedUngracefully)
	assert.Equal(t, 1, out.closed)

	for i := 0; i < 2; i++ {
		rest, err := s.Stop(testContext(t))
		assert.NoError(t, err)
		assert.Empty(t, rest)
	}
	assert.Equal(t, 1, out.closed)
	_, err = s.Receive(testContext(t))
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestStatus_Subscribe(t *testing.T) {
	sc := newScript(
		&schema.Event{Kind: schema.EventStatus, Status: &schema.Status{State: schema.ScannerStateReady}},
		&schema.Event{Kind: schema.EventStatus, Status: &schema.Status{State: schema.ScannerStateRunning, Temperature: 41.5}},
		&schema.Event{Kind: schema.EventEndOfStream},
	)
	conn := sc.dial(t)

	s, err := SubscribeStatus(testContext(t), conn)
	require.NoError(t, err)

	var states []schema.ScannerState
	err = s.Subscribe(testContext(t), func(st *schema.Status) error {
		states = append(states, st.State)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []schema.ScannerState{schema.ScannerStateReady, schema.ScannerStateRunning}, states)
}

func TestStatus_CallbackError(t *testing.T) {
	sc := newScript(&schema.Event{Kind: schema.EventStatus, Status: &schema.Status{}})
	conn := sc.dial(t)

	s, err := SubscribeStatus(testContext(t), conn)
	require.NoError(t, err)

	stop := errors.New("enough")
	err = s.Subscribe(testContext(t), func(*schema.Status) error { return stop })
	assert.ErrorIs(t, err, stop)
}
