// Package signaling is the client side of the broker websocket.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsxxll/webchat/internal/dns"
	"github.com/wsxxll/webchat/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 * 1024 * 1024
)

var ErrClosed = errors.New("signaling connection closed")

type Options struct {
	// Heartbeat is the interval between heartbeat messages.
	Heartbeat time.Duration
	// Attempts and RetryDelay bound DialRetry.
	Attempts   int
	RetryDelay time.Duration
	// IdleTimeout closes the connection when nothing, pings included,
	// arrives for that long.
	IdleTimeout time.Duration
	Resolver    *dns.Resolver
	Logger      *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Heartbeat:   30 * time.Second,
		Attempts:    5,
		RetryDelay:  3 * time.Second,
		IdleTimeout: 90 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Heartbeat <= 0 {
		o.Heartbeat = d.Heartbeat
	}
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is one websocket connection to the broker. Incoming is closed when
// the connection ends for any reason.
type Client struct {
	conn     *websocket.Conn
	opts     Options
	logger   *slog.Logger
	incoming chan *protocol.Message
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

// Dial connects to url once.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	if opts.Resolver != nil {
		dialer.NetDialContext = opts.Resolver.DialContext
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:     conn,
		opts:     opts,
		logger:   opts.Logger.With("component", "signaling"),
		incoming: make(chan *protocol.Message, 64),
		outgoing: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	conn.SetPingHandler(func(appData string) error {
		c.extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// DialRetry calls Dial up to opts.Attempts times, waiting opts.RetryDelay
// between attempts.
func DialRetry(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	var err error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		var c *Client
		c, err = Dial(ctx, url, opts)
		if err == nil {
			return c, nil
		}
		opts.Logger.Warn("broker connection failed", "attempt", attempt, "of", opts.Attempts, "error", err)
		if attempt == opts.Attempts {
			break
		}
		t := time.NewTimer(opts.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", opts.Attempts, err)
}

func (c *Client) extend() {
	c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	c.extend()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("broker connection lost", "error", err)
			}
			return
		}
		c.extend()

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	heartbeat, _ := protocol.Encode(&protocol.Message{Type: protocol.TypeHeartbeat})
	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.flush()
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before Close, such as a final leave.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.outgoing:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues m for the broker.
func (c *Client) Send(m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}
