// Package server bridges the EPC dispatcher onto NATS request/reply.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/epc"
	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
)

// NATSSubscriber answers EPC requests published on a subject. Each request
// runs on the event loop; the NATS callback goroutine waits for it.
type NATSSubscriber struct {
	nc      *nats.Conn
	loop    *eventloop.Loop
	disp    *epc.Dispatcher
	subject string
	timeout time.Duration
	subs    []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, loop *eventloop.Loop, disp *epc.Dispatcher, subject string, timeout time.Duration) *NATSSubscriber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSSubscriber{
		nc:      nc,
		loop:    loop,
		disp:    disp,
		subject: subject,
		timeout: timeout,
	}
}

// Start subscribes and serves until ctx is done.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	// A queue group lets several emulators share one subject.
	sub, err := s.nc.QueueSubscribe(s.subject, "acse", s.handleEPCRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Str("subject", s.subject).
		Int("subscriptions", len(s.subs)).
		Msg("NATS EPC subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	return ctx.Err()
}

func (s *NATSSubscriber) handleEPCRequest(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received EPC request")

	if msg.Reply == "" {
		log.Warn().Str("subject", msg.Subject).Msg("EPC request without reply subject dropped")
		return
	}
	if err := msg.Respond(s.serve(msg.Data)); err != nil {
		log.Error().Err(err).Msg("Failed to respond to EPC request")
	}
}

// serve runs one JSON request on the loop and returns the JSON response.
func (s *NATSSubscriber) serve(data []byte) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var out []byte
	err := s.loop.Exec(ctx, func() {
		out = s.disp.HandleFrame(data)
	})
	if err != nil {
		out, _ = json.Marshal(&epc.Response{Status: epc.StatusError, Error: err.Error()})
	}
	return out
}

// Request sends req to an emulator over NATS and waits for the response.
// A non-ok status is returned in the response, not as an error.
func Request(ctx context.Context, nc *nats.Conn, subject string, req *epc.Request) (*epc.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	reply, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("epc request on %s: %w", subject, err)
	}
	var resp epc.Response
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return nil, fmt.Errorf("epc response: %w", err)
	}
	return &resp, nil
}
