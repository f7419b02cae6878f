// ABOUTME: Remote-console socket client that polls the experiment server and fills ConsoleQueues.
// ABOUTME: Answers the server's PARAM_REQUEST with staged edits, or OLD_PARAMS when there are none.
package clientserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Addr string
	// PollInterval is how long the client waits for more frames before
	// sending its next request.
	PollInterval time.Duration
	IOTimeout    time.Duration
	// MaxDialAttempts bounds connection retries; 0 means retry until ctx ends.
	MaxDialAttempts int
	Backoff         BackoffConfig
}

// DefaultClientConfig returns the stock client timings for addr.
func DefaultClientConfig(addr string) ClientConfig {
	return ClientConfig{
		Addr:         addr,
		PollInterval: 10 * time.Millisecond,
		IOTimeout:    5 * time.Second,
		Backoff:      DefaultBackoff(),
	}
}

// Client is a connected console client.
type Client struct {
	cfg  ClientConfig
	q    *ConsoleQueues
	conn net.Conn
	id   string
}

// Dial connects to the experiment server, retrying with backoff until it
// answers, MaxDialAttempts is exhausted, or ctx is done.
func Dial(ctx context.Context, cfg ClientConfig, q *ConsoleQueues) (*Client, error) {
	def := DefaultClientConfig(cfg.Addr)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = def.IOTimeout
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = def.Backoff
	}

	var d net.Dialer
	for attempt := 0; ; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
		if err == nil {
			c := &Client{cfg: cfg, q: q, conn: conn, id: uuid.NewString()}
			log.Printf("component=clientserver action=dialed conn=%s addr=%s attempts=%d", c.id, cfg.Addr, attempt+1)
			return c, nil
		}
		if cfg.MaxDialAttempts > 0 && attempt+1 >= cfg.MaxDialAttempts {
			return nil, fmt.Errorf("dial %s after %d attempts: %w", cfg.Addr, attempt+1, err)
		}
		delay := cfg.Backoff.DelayForAttempt(attempt)
		log.Printf("component=clientserver action=dial_retry addr=%s attempt=%d delay=%s err=%v", cfg.Addr, attempt+1, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// ID identifies this connection in logs.
func (c *Client) ID() string { return c.id }

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Run polls the server until ctx is done or the connection fails. It
// returns nil when stopped through ctx.
func (c *Client) Run(ctx context.Context) error {
	defer c.conn.Close()
	fr := frameReader{conn: c.conn, ioTimeout: c.cfg.IOTimeout}

	for ctx.Err() == nil {
		req := ServerRequest
		if cmd, ok := c.q.takeCmd(); ok {
			req = cmd
		}
		if err := fr.write(req, nil); err != nil {
			return c.exitErr(ctx, err)
		}

		// Drain everything the server sends in answer before polling again.
		for ctx.Err() == nil {
			msg, err := fr.next(c.cfg.PollInterval)
			if errors.Is(err, errIdle) {
				break
			}
			if err != nil {
				return c.exitErr(ctx, err)
			}
			if err := c.handle(ctx, fr, msg); err != nil {
				return c.exitErr(ctx, err)
			}
		}
	}
	return nil
}

func (c *Client) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	log.Printf("component=clientserver action=connection_lost conn=%s err=%v", c.id, err)
	return err
}

func (c *Client) handle(ctx context.Context, fr frameReader, msg Message) error {
	switch msg.Kind {
	case NewScreen:
		putLatest(c.q.screen, msg.Payload)
	case TrialData:
		select {
		case c.q.trial <- msg.Payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	case NewParams:
		putLatest(c.q.params, msg.Payload)
	case ParamRequest:
		if b, ok := takeNow(c.q.edits); ok {
			return fr.write(NewParams, b)
		}
		return fr.write(OldParams, nil)
	default:
		return fmt.Errorf("unexpected %v from server", msg.Kind)
	}
	return nil
}
