// Package natsrelay implements the relay client over NATS
// request-reply. Submissions are idempotent: the key derived from the
// submission CID lets the relay service deduplicate retried requests.
package natsrelay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/umbra-net/umbra-go/model/encoding"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/network/relay"
)

const (
	// HeaderIdempotencyKey carries the deduplication key for a
	// submission. Retries of the same submission reuse the same key.
	HeaderIdempotencyKey = "Umbra-Idempotency-Key"
	// HeaderSubmissionKind carries the relay lane of the submission.
	HeaderSubmissionKind = "Umbra-Submission-Kind"

	// DefaultSubject is the request subject the relay service listens on.
	DefaultSubject = "umbra.relay.submit"
)

// Config holds the connection and circuit breaker settings.
type Config struct {
	URL             string
	Subject         string
	RequestTimeout  time.Duration
	ConnectTimeout  time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultConfig returns the default relay client configuration.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		Subject:         DefaultSubject,
		RequestTimeout:  2 * time.Second,
		ConnectTimeout:  10 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 10 * time.Second,
	}
}

// submitAck is the reply payload of the relay service.
type submitAck struct {
	Accepted bool
	Reason   string
}

// Client is a relay client over a NATS connection. Transient relay
// outages trip a circuit breaker so the dispatcher fails fast instead
// of piling up timed-out requests.
type Client struct {
	log     zerolog.Logger
	conn    *nats.Conn
	subject string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

var _ relay.Client = (*Client)(nil)

// New connects to the NATS server and returns a relay client.
func New(log zerolog.Logger, conf Config) (*Client, error) {
	log = log.With().Str("component", "nats_relay").Logger()

	conn, err := nats.Connect(conf.URL,
		nats.Timeout(conf.ConnectTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("relay connection lost")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("relay connection restored")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not connect to relay at %s: %w", conf.URL, err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "relay",
		Timeout: conf.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerFailures
		},
		// a rejection is a valid answer from a healthy relay
		IsSuccessful: func(err error) bool {
			return err == nil || relay.IsRejectedError(err)
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("relay circuit breaker state changed")
		},
	})

	return &Client{
		log:     log,
		conn:    conn,
		subject: conf.Subject,
		timeout: conf.RequestTimeout,
		breaker: breaker,
	}, nil
}

// Submit implements relay.Client.
func (c *Client) Submit(ctx context.Context, sub *relay.Submission) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.request(ctx, sub)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("relay unavailable: %w", err)
	}
	return err
}

func (c *Client) request(ctx context.Context, sub *relay.Submission) error {
	body, err := encoding.DefaultEncoder.Encode(sub)
	if err != nil {
		return fmt.Errorf("could not encode submission: %w", err)
	}

	msg := nats.NewMsg(c.subject)
	msg.Data = body
	msg.Header.Set(HeaderIdempotencyKey, IdempotencyKey(sub.CID).String())
	msg.Header.Set(HeaderSubmissionKind, sub.Kind.String())

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}

	var ack submitAck
	err = encoding.DefaultEncoder.Decode(reply.Data, &ack)
	if err != nil {
		return fmt.Errorf("could not decode relay reply: %w", err)
	}
	if !ack.Accepted {
		return relay.NewRejectedError(sub.CID, ack.Reason)
	}

	c.log.Debug().
		Hex("cid", sub.CID[:]).
		Uint64("epoch", sub.EpochID).
		Uint32("seq", sub.SeqIdx).
		Str("kind", sub.Kind.String()).
		Msg("submission accepted by relay")
	return nil
}

// Close drains the NATS connection.
func (c *Client) Close() {
	c.conn.Close()
}

// IdempotencyKey derives the deduplication key for a submission.
// The key is a function of the CID only, so every retry of the same
// payload carries the same key.
func IdempotencyKey(cid umbra.Identifier) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, cid[:])
}
