// SPDX-License-Identifier: MPL-2.0

package event

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HandlerFunc processes one envelope received on a connection. The same
// handler receives both requests and responses for its event name.
type HandlerFunc func(c *Conn, m *Message)

// AppConfig carries the connection lifecycle callbacks.
type AppConfig struct {
	Log zerolog.Logger

	// OnConnected fires for client connections once the dial succeeded.
	OnConnected func(c *Conn)
	// OnClose fires when a connection read loop terminates.
	OnClose func(c *Conn)
}

// App routes envelopes to registered handlers. One app serves either a
// listener or a client connection with auto-reconnect.
type App struct {
	log         zerolog.Logger
	onConnected func(c *Conn)
	onClose     func(c *Conn)

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	conns    map[*Conn]struct{}
}

func NewApp(conf AppConfig) *App {
	return &App{
		log:         conf.Log,
		onConnected: conf.OnConnected,
		onClose:     conf.OnClose,
		handlers:    make(map[string]HandlerFunc),
		conns:       make(map[*Conn]struct{}),
	}
}

// Register installs the handler for an event name, replacing any
// previous one.
func (a *App) Register(name string, h HandlerFunc) {
	a.mu.Lock()
	a.handlers[name] = h
	a.mu.Unlock()
}

// Serve accepts connections from lis until the listener is closed.
func (a *App) Serve(lis net.Listener) {
	for {
		nc, err := lis.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.log.Error().Err(err).Msg("accept failed")
			}
			return
		}
		c := a.newConn(nc)
		go a.readLoop(c)
	}
}

// Connect dials via dial and runs the connection until it drops, then
// redials after interval. It returns when ctx is done. Intended to be
// run on its own goroutine.
func (a *App) Connect(ctx context.Context, dial func() (net.Conn, error), interval time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}
		nc, err := dial()
		if err != nil {
			a.log.Debug().Err(err).Msg("connect failed")
		} else {
			c := a.newConn(nc)
			if a.onConnected != nil {
				a.onConnected(c)
			}
			a.readLoop(c)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Close terminates every tracked connection.
func (a *App) Close() {
	a.mu.Lock()
	conns := make([]*Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (a *App) newConn(nc net.Conn) *Conn {
	c := &Conn{
		app: a,
		nc:  nc,
		enc: json.NewEncoder(nc),
		log: a.log.With().Str("remote", nc.RemoteAddr().String()).Logger(),
	}
	a.mu.Lock()
	a.conns[c] = struct{}{}
	a.mu.Unlock()
	return c
}

func (a *App) readLoop(c *Conn) {
	dec := json.NewDecoder(c.nc)
	for {
		m := &Message{}
		if err := dec.Decode(m); err != nil {
			break
		}

		a.mu.RLock()
		h := a.handlers[m.Event]
		a.mu.RUnlock()

		if h == nil {
			c.log.Debug().Str("event", m.Event).Msg("no handler for event")
			continue
		}
		h(c, m)
	}

	c.Close()
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
	if a.onClose != nil {
		a.onClose(c)
	}
}

// Conn is one framed connection managed by an App. Sends from multiple
// goroutines are serialized.
type Conn struct {
	app *App
	nc  net.Conn
	enc *json.Encoder // guarded by wmu
	log zerolog.Logger

	wmu       sync.Mutex
	closeOnce sync.Once
}

// Send writes one envelope to the peer.
func (c *Conn) Send(m *Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(m)
}

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nc.Close()
	})
	return err
}
