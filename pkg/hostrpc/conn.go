package hostrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 10 * time.Second

// ErrClosed is returned for requests on a closed connection
var ErrClosed = errors.New("connection closed")

// Conn multiplexes request/response pairs over one websocket.
// Requests may be issued concurrently; responses are matched by id.
type Conn struct {
	ws     *websocket.Conn
	url    string
	logger zerolog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *wire.Payload
	err     error
	done    chan struct{}
}

// Dial opens a websocket to url and starts the read loop
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("dial %s failed (status=%d): %w", url, status, err)
	}

	c := &Conn{
		ws:      ws,
		url:     url,
		logger:  log.WithComponent("hostrpc").With().Str("url", url).Logger(),
		pending: make(map[uint64]chan *wire.Payload),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Request sends req and waits for the matching response payload
func (c *Conn) Request(ctx context.Context, req *wire.Payload) (*wire.Payload, error) {
	body, err := wire.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", req.Type, err)
	}

	id := c.nextID.Add(1)
	ch := make(chan *wire.Payload, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := wire.Marshal(&wire.Frame{Type: wire.FrameRequest, ID: id, Data: body})
	if err != nil {
		return nil, err
	}
	if err := c.write(frame); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Type, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		var frame wire.Frame
		if err := wire.Unmarshal(data, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if frame.Type != wire.FrameResponse {
			c.logger.Debug().Str("type", frame.Type).Msg("Ignoring non-response frame")
			continue
		}

		var payload wire.Payload
		if err := wire.Unmarshal(frame.Data, &payload); err != nil {
			c.logger.Warn().Err(err).Uint64("id", frame.ID).Msg("Dropping malformed response")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[frame.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug().Uint64("id", frame.ID).Msg("Response for unknown request")
			continue
		}
		select {
		case ch <- &payload:
		default:
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *Conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the websocket down and fails outstanding requests
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	c.fail(ErrClosed)
	return err
}

// call performs one typed round trip: encode in, expect want, decode into out.
// Host error payloads are returned as *wire.HostError.
func (c *Conn) call(ctx context.Context, reqType string, in interface{}, want string, out interface{}) error {
	req, err := wire.NewPayload(reqType, in)
	if err != nil {
		return err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return err
	}
	if he := resp.Err(); he != nil {
		return he
	}
	if resp.Type != want {
		return fmt.Errorf("%s: unexpected response %q, want %q", reqType, resp.Type, want)
	}
	if out == nil {
		return nil
	}
	if err := resp.Into(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", reqType, err)
	}
	return nil
}
