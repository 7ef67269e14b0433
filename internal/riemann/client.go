package riemann

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultTimeout = 5 * time.Second
	maxReplySize   = 16 << 20
)

var (
	// ErrNotConnected reports a send on a client without a live connection.
	ErrNotConnected = errors.New("riemann client not connected")
	// ErrServer reports a reply Msg with ok=false.
	ErrServer = errors.New("riemann server rejected message")
)

// DialFunc opens one stream connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TCPClient sends Riemann events over one length-prefixed TCP connection.
// Params: address host:port; timeout dial/write/read deadline.
// Returns: client with explicit connect lifecycle.
type TCPClient struct {
	address string
	timeout time.Duration
	dial    DialFunc

	mu        sync.Mutex
	conn      net.Conn
	connected atomic.Bool
}

// NewTCPClient creates a disconnected client for one endpoint.
// Params: address host:port; timeout per-operation deadline (<=0 uses default).
// Returns: client instance.
func NewTCPClient(address string, timeout time.Duration) *TCPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &TCPClient{
		address: strings.TrimSpace(address),
		timeout: timeout,
		dial:    (&net.Dialer{}).DialContext,
	}
}

// WithDialer overrides the dial function, mainly for tests.
// Params: dial replacement dialer.
// Returns: same client for chaining.
func (c *TCPClient) WithDialer(dial DialFunc) *TCPClient {
	if dial != nil {
		c.dial = dial
	}
	return c
}

// Address returns configured endpoint address.
func (c *TCPClient) Address() string {
	return c.address
}

// IsConnected reports current liveness without blocking on in-flight sends.
// Params: none.
// Returns: true when a connection is held and no I/O error was observed since.
func (c *TCPClient) IsConnected() bool {
	return c.connected.Load()
}

// Connect dials endpoint when no connection is held.
// Params: ctx dial context.
// Returns: dial error.
func (c *TCPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	return c.dialLocked(ctx)
}

// Reconnect drops any held connection and dials again.
// Params: ctx dial context.
// Returns: dial error.
func (c *TCPClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()
	return c.dialLocked(ctx)
}

// Send writes one event and waits for the server acknowledgement.
// Params: ctx call context; event payload.
// Returns: encode, I/O or server error.
func (c *TCPClient) Send(ctx context.Context, event *Event) error {
	payload, err := EncodeMsg(event)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.dropLocked()
		return fmt.Errorf("set deadline %s: %w", c.address, err)
	}

	if err := WriteFrame(c.conn, payload); err != nil {
		c.dropLocked()
		return fmt.Errorf("write %s: %w", c.address, err)
	}

	reply, err := readFrame(c.conn)
	if err != nil {
		c.dropLocked()
		return fmt.Errorf("read reply %s: %w", c.address, err)
	}

	msg, err := DecodeMsg(reply)
	if err != nil {
		c.dropLocked()
		return fmt.Errorf("reply %s: %w", c.address, err)
	}
	if msg.OK != nil && !*msg.OK {
		return fmt.Errorf("%w: %s", ErrServer, msg.Error)
	}
	return nil
}

// Close closes held connection.
// Params: none.
// Returns: close error.
func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
	return err
}

func (c *TCPClient) dialLocked(ctx context.Context) error {
	if c.address == "" {
		return fmt.Errorf("riemann address is empty")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(dialCtx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.address, err)
	}
	c.conn = conn
	c.connected.Store(true)
	return nil
}

func (c *TCPClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

// ReadFrame reads one length-prefixed protobuf payload.
// Params: r stream reader.
// Returns: payload bytes or I/O error.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r)
}

// WriteFrame writes one length-prefixed protobuf payload.
// Params: w stream writer; payload encoded Msg.
// Returns: write error.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxReplySize {
		return nil, fmt.Errorf("frame size %d exceeds limit %d", size, maxReplySize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
