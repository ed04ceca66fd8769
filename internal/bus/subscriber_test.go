package bus

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

type fakeMessage struct {
	payload    []byte
	acked      bool
	nacked     bool
}

func (m *fakeMessage) Payload() []byte { return m.payload }
func (m *fakeMessage) Ack()            { m.acked = true }
func (m *fakeMessage) Nack()           { m.nacked = true }

func TestSubscriberAcksOnSuccessfulDispatch(t *testing.T) {
	msg := &fakeMessage{payload: []byte(`{"data":{},"attributes":{"deviceId":"dev-1"}}`)}
	ch := make(chan Message, 1)
	ch <- msg

	var gotDeviceID string
	sub := &Subscriber{
		Messages: ch,
		Dispatch: func(_ context.Context, deviceID string) error {
			gotDeviceID = deviceID
			return nil
		},
		Log: logr.Discard(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	close(ch)
	sub.Run(ctx)

	if gotDeviceID != "dev-1" {
		t.Errorf("dispatched device id = %q, want dev-1", gotDeviceID)
	}
	if !msg.acked {
		t.Error("expected message to be acked")
	}
	if msg.nacked {
		t.Error("expected message not to be nacked")
	}
}

func TestSubscriberNacksOnMalformedEnvelope(t *testing.T) {
	msg := &fakeMessage{payload: []byte(`not json`)}
	ch := make(chan Message, 1)
	ch <- msg
	close(ch)

	dispatchCalled := false
	sub := &Subscriber{
		Messages: ch,
		Dispatch: func(_ context.Context, _ string) error {
			dispatchCalled = true
			return nil
		},
		Log: logr.Discard(),
	}

	sub.Run(context.Background())

	if dispatchCalled {
		t.Error("dispatch should not be called for a malformed envelope")
	}
	if !msg.nacked {
		t.Error("expected message to be nacked")
	}
	if msg.acked {
		t.Error("expected message not to be acked")
	}
}

func TestSubscriberAcksEmptyDeviceIDWithoutDispatch(t *testing.T) {
	msg := &fakeMessage{payload: []byte(`{"data":{},"attributes":{}}`)}
	ch := make(chan Message, 1)
	ch <- msg
	close(ch)

	dispatchCalled := false
	sub := &Subscriber{
		Messages: ch,
		Dispatch: func(_ context.Context, _ string) error {
			dispatchCalled = true
			return nil
		},
		Log: logr.Discard(),
	}

	sub.Run(context.Background())

	if dispatchCalled {
		t.Error("dispatch should not be called when deviceId is empty")
	}
	if !msg.acked {
		t.Error("expected message to be acked even with no deviceId")
	}
}

func TestSubscriberAcksEvenOnDispatchError(t *testing.T) {
	msg := &fakeMessage{payload: []byte(`{"data":{},"attributes":{"deviceId":"dev-1"}}`)}
	ch := make(chan Message, 1)
	ch <- msg
	close(ch)

	sub := &Subscriber{
		Messages: ch,
		Dispatch: func(_ context.Context, _ string) error {
			return context.DeadlineExceeded
		},
		Log: logr.Discard(),
	}

	sub.Run(context.Background())

	if !msg.acked {
		t.Error("expected message to be acked despite dispatch error")
	}
}

func TestSubscriberStopsOnContextCancel(t *testing.T) {
	ch := make(chan Message)
	sub := &Subscriber{
		Messages: ch,
		Dispatch: func(_ context.Context, _ string) error { return nil },
		Log:      logr.Discard(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
