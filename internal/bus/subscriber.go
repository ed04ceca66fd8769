package bus

import (
	"context"

	"github.com/go-logr/logr"
)

// Message is one inbound bus delivery. Concrete implementations wrap
// whatever broker client library a deployment chooses; this package only
// needs the envelope bytes and the ack/nack capability.
type Message interface {
	Payload() []byte
	Ack()
	Nack()
}

// Dispatcher is the VM-side callback a Subscriber hands a decoded
// device id to. In practice this is vm.VM.ExecuteAllDependentRules.
type Dispatcher func(ctx context.Context, deviceID string) error

// Subscriber drains Messages and dispatches each envelope's device_id.
// Ack on successful dispatch; nack only on envelope decode failure (§6) —
// a dispatch error (e.g. the ready-queue's context was canceled) is still
// acked, since retrying a device-state event by redelivery would not help.
type Subscriber struct {
	Messages   <-chan Message
	Dispatch   Dispatcher
	Log        logr.Logger
}

// Run drains Messages until ctx is canceled or the channel closes.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.Messages:
			if !ok {
				return
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg Message) {
	env, err := DecodeEnvelope(msg.Payload())
	if err != nil {
		s.Log.Error(err, "bus: dropping malformed envelope")
		msg.Nack()
		return
	}
	if env.Attributes.DeviceID == "" {
		s.Log.V(1).Info("bus: envelope carries no deviceId, ignoring")
		msg.Ack()
		return
	}
	if err := s.Dispatch(ctx, env.Attributes.DeviceID); err != nil {
		s.Log.Error(err, "bus: dispatch failed", "device_id", env.Attributes.DeviceID)
	}
	msg.Ack()
}
