package hostrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler answers one request payload with one response payload
type Handler func(ctx context.Context, req *wire.Payload) *wire.Payload

// Listener serves a Handler over websockets on one loopback port
type Listener struct {
	name     string
	handler  Handler
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// Listen binds 127.0.0.1:port (0 picks a free port) and starts serving
func Listen(name string, port uint16, handler Handler) (*Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for %s interface: %w", name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		name:     name,
		handler:  handler,
		listener: ln,
		logger:   log.WithComponent("hostrpc").With().Str("interface", name).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[*websocket.Conn]struct{}),
	}
	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.serveHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error().Err(err).Msg("Interface server stopped")
		}
	}()

	l.logger.Debug().Uint16("port", l.Port()).Msg("Interface listening")
	return l, nil
}

// Port returns the bound port
func (l *Listener) Port() uint16 {
	return uint16(l.listener.Addr().(*net.TCPAddr).Port)
}

// Close stops accepting, drops open connections and waits for handlers
func (l *Listener) Close() error {
	l.cancel()
	err := l.server.Close()

	l.mu.Lock()
	for c := range l.conns {
		c.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return err
}

func (l *Listener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		ws.Close()
		return
	}
	l.conns[ws] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.conns, ws)
		l.mu.Unlock()
		ws.Close()
		l.wg.Done()
	}()

	l.serveConn(ws)
}

func (l *Listener) serveConn(ws *websocket.Conn) {
	var writeMu sync.Mutex
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame wire.Frame
		if err := wire.Unmarshal(data, &frame); err != nil || frame.Type != wire.FrameRequest {
			l.logger.Warn().Msg("Dropping frame that is not a request")
			continue
		}

		inflight.Add(1)
		go func(frame wire.Frame) {
			defer inflight.Done()

			resp := l.dispatch(frame.Data)
			body, err := wire.Marshal(resp)
			if err != nil {
				l.logger.Error().Err(err).Str("type", resp.Type).Msg("Failed to encode response")
				return
			}
			out, err := wire.Marshal(&wire.Frame{Type: wire.FrameResponse, ID: frame.ID, Data: body})
			if err != nil {
				return
			}

			writeMu.Lock()
			defer writeMu.Unlock()
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, out); err != nil {
				l.logger.Debug().Err(err).Msg("Failed to write response")
			}
		}(frame)
	}
}

func (l *Listener) dispatch(data []byte) *wire.Payload {
	var req wire.Payload
	if err := wire.Unmarshal(data, &req); err != nil {
		return wire.ErrorPayload("deserialization", err.Error())
	}
	resp := l.handler(l.ctx, &req)
	if resp == nil {
		return wire.ErrorPayload("internal", "no response for "+req.Type)
	}
	return resp
}
