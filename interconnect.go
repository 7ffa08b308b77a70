// SPDX-License-Identifier: MPL-2.0

// Package interconnect implements a site-to-site bridge for a voice
// conference fabric. Pairs of nodes form authenticated DTLS-SRTP
// tunnels that splice the site-local multicast loops of two sites so
// that participants on either side share the same conference.
package interconnect

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vocnet/interconnect/event"
	"github.com/vocnet/interconnect/media"
	"github.com/vocnet/interconnect/monitor"
)

// session couples the per-peer media state with the signaling
// connection that negotiated it.
type session struct {
	*media.Session
	signaling *event.Conn
}

// Interconnect is the site-local interconnect node: one signaling
// socket, one mixer socket, one shared media socket and the sessions,
// loops and mixers hanging off them.
type Interconnect struct {
	config  Config
	log     zerolog.Logger
	emitter monitor.Emitter

	dtls      *media.DTLSContext
	signaling *event.App
	mixerApp  *event.App

	mediaConn   *net.UDPConn
	sigListener net.Listener
	mixListener net.Listener
	stopClient  context.CancelFunc

	mu sync.Mutex
	// The two session maps are updated together: a session is present
	// in both or neither.
	bySignaling map[string]*session
	byMedia     map[string]*session
	loops       map[string]*Loop
	registered  map[string]struct{}
	closed      bool

	mixers *MixerRegistry
}

// Option adjusts node construction.
type Option func(i *Interconnect)

func WithLogger(l zerolog.Logger) Option {
	return func(i *Interconnect) { i.log = l }
}

func WithEmitter(e monitor.Emitter) Option {
	return func(i *Interconnect) { i.emitter = e }
}

// New builds a node, opens its three sockets and registers the event
// handlers. Loops from the configuration are created immediately.
func New(conf Config, opts ...Option) (*Interconnect, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	i := &Interconnect{
		config:      conf,
		log:         log.With().Str("caller", "interconnect").Str("name", conf.Name).Logger(),
		bySignaling: make(map[string]*session),
		byMedia:     make(map[string]*session),
		loops:       make(map[string]*Loop),
		registered:  make(map[string]struct{}),
		mixers:      NewMixerRegistry(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.emitter == nil {
		i.emitter = monitor.LogEmitter{Log: i.log}
	}

	dtlsCtx, err := media.NewDTLSContext(conf.TLS.DTLS, i.log)
	if err != nil {
		return nil, err
	}
	i.dtls = dtlsCtx

	i.signaling = event.NewApp(event.AppConfig{
		Log:         i.log.With().Str("app", "signaling").Logger(),
		OnConnected: i.onSignalingConnected,
		OnClose:     i.onSignalingClose,
	})
	i.mixerApp = event.NewApp(event.AppConfig{
		Log:     i.log.With().Str("app", "mixer").Logger(),
		OnClose: i.onMixerClose,
	})
	i.registerEvents()

	for name, mc := range conf.Loops {
		loop, err := newLoop(i, name, mc, conf.Socket.Internal)
		if err != nil {
			i.Close()
			return nil, err
		}
		i.loops[name] = loop
		i.log.Debug().Str("loop", name).Str("multicast", mc.Addr()).Msg("loaded loop")
	}

	if err := i.openSockets(); err != nil {
		i.Close()
		return nil, err
	}
	return i, nil
}

func (i *Interconnect) registerEvents() {
	i.signaling.Register(event.EventRegister, i.onRegister)
	i.signaling.Register(event.EventConnectMedia, i.onConnectMedia)
	i.signaling.Register(event.EventConnectLoops, i.onConnectLoops)

	i.mixerApp.Register(event.EventMixerRegister, i.onMixerRegister)
	i.mixerApp.Register(event.EventMixerAcquire, i.onMixerAcquire)
	i.mixerApp.Register(event.EventMixerJoin, i.onMixerJoin)
}

func (i *Interconnect) openSockets() error {
	// Media first: the media endpoint is announced over signaling.
	maddr, err := net.ResolveUDPAddr("udp", i.config.Socket.Media.Addr())
	if err != nil {
		return fmt.Errorf("media socket: %w", err)
	}
	i.mediaConn, err = net.ListenUDP("udp", maddr)
	if err != nil {
		return fmt.Errorf("could not open media socket %s: %w", i.config.Socket.Media.Addr(), err)
	}
	// The bound port is announced to peers; an ephemeral bind fills it in.
	i.config.Socket.Media.Port = i.mediaConn.LocalAddr().(*net.UDPAddr).Port
	i.log.Info().Str("addr", i.mediaConn.LocalAddr().String()).Msg("opened media socket")
	go i.readMediaLoop()

	serverTLS, err := i.serverTLSConfig()
	if err != nil {
		return err
	}

	i.mixListener, err = tls.Listen("tcp", i.config.Socket.Mixer.Addr(), serverTLS)
	if err != nil {
		return fmt.Errorf("could not open mixer socket %s: %w", i.config.Socket.Mixer.Addr(), err)
	}
	i.log.Info().Str("addr", i.mixListener.Addr().String()).Msg("opened mixer socket")
	go i.mixerApp.Serve(i.mixListener)

	if i.config.Socket.Client {
		clientTLS, err := i.clientTLSConfig()
		if err != nil {
			return err
		}
		addr := i.config.Socket.Signaling.Addr()
		ctx, cancel := context.WithCancel(context.Background())
		i.stopClient = cancel
		go i.signaling.Connect(ctx, func() (net.Conn, error) {
			return tls.Dial("tcp", addr, clientTLS)
		}, i.config.ReconnectInterval())
		return nil
	}

	i.sigListener, err = tls.Listen("tcp", i.config.Socket.Signaling.Addr(), serverTLS)
	if err != nil {
		return fmt.Errorf("could not open signaling socket %s: %w", i.config.Socket.Signaling.Addr(), err)
	}
	i.log.Info().Str("addr", i.sigListener.Addr().String()).Msg("opened signaling socket")
	go i.signaling.Serve(i.sigListener)
	return nil
}

// serverTLSConfig builds the listener configuration: the certificate
// store from tls.domains, or the DTLS certificate when none is set.
func (i *Interconnect) serverTLSConfig() (*tls.Config, error) {
	cert := i.dtls.Certificate()
	if i.config.TLS.Domains != "" {
		var err error
		cert, err = tls.LoadX509KeyPair(
			filepath.Join(i.config.TLS.Domains, "cert.pem"),
			filepath.Join(i.config.TLS.Domains, "key.pem"),
		)
		if err != nil {
			return nil, fmt.Errorf("listener certificate: %w", err)
		}
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// clientTLSConfig builds the outbound signaling configuration. Without
// a configured CA the server certificate is accepted unverified; peers
// authenticate through the shared password on register.
func (i *Interconnect) clientTLSConfig() (*tls.Config, error) {
	conf := &tls.Config{
		ServerName: i.config.TLS.Client.Domain,
	}

	ca := i.config.TLS.Client.CA
	if ca.File == "" && ca.Path == "" {
		conf.InsecureSkipVerify = true
		if conf.ServerName == "" {
			conf.ServerName = i.config.Socket.Signaling.Host
		}
		return conf, nil
	}

	pool := x509.NewCertPool()
	if ca.File != "" {
		pem, err := os.ReadFile(ca.File)
		if err != nil {
			return nil, fmt.Errorf("ca file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca file %s: no certificates found", ca.File)
		}
	}
	if ca.Path != "" {
		entries, err := os.ReadDir(ca.Path)
		if err != nil {
			return nil, fmt.Errorf("ca path: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(ca.Path, e.Name()))
			if err != nil {
				continue
			}
			pool.AppendCertsFromPEM(pem)
		}
	}
	conf.RootCAs = pool
	return conf, nil
}

// Close tears down every socket, session and loop. It is idempotent.
func (i *Interconnect) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	sessions := make([]*session, 0, len(i.bySignaling))
	for _, s := range i.bySignaling {
		sessions = append(sessions, s)
	}
	i.bySignaling = map[string]*session{}
	i.byMedia = map[string]*session{}
	loops := i.loops
	i.loops = map[string]*Loop{}
	i.mu.Unlock()

	if i.stopClient != nil {
		i.stopClient()
	}
	if i.sigListener != nil {
		i.sigListener.Close()
	}
	if i.mixListener != nil {
		i.mixListener.Close()
	}
	if i.signaling != nil {
		i.signaling.Close()
	}
	if i.mixerApp != nil {
		i.mixerApp.Close()
	}

	for _, s := range sessions {
		s.Close()
	}
	for _, l := range loops {
		l.Close()
	}
	if i.mediaConn != nil {
		i.mediaConn.Close()
	}
	if i.dtls != nil {
		i.dtls.Close()
	}
	return nil
}

// MediaAddr is the bound address of the shared media socket.
func (i *Interconnect) MediaAddr() *net.UDPAddr {
	return i.mediaConn.LocalAddr().(*net.UDPAddr)
}

// SignalingAddr is the bound signaling listener address; nil on the
// client side.
func (i *Interconnect) SignalingAddr() net.Addr {
	if i.sigListener == nil {
		return nil
	}
	return i.sigListener.Addr()
}

// MixerAddr is the bound mixer listener address.
func (i *Interconnect) MixerAddr() net.Addr {
	return i.mixListener.Addr()
}

// Loop returns a configured loop by name.
func (i *Interconnect) Loop(name string) *Loop {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loops[name]
}

// Fingerprint exposes the DTLS certificate fingerprint.
func (i *Interconnect) Fingerprint() string {
	return i.dtls.Fingerprint()
}

// loopDefinitions lists every local loop with its SSRC, in the shape
// of the connect_loops payload.
func (i *Interconnect) loopDefinitions() []event.LoopEntry {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]event.LoopEntry, 0, len(i.loops))
	for _, l := range i.loops {
		out = append(out, event.LoopEntry{Name: l.Name(), SSRC: l.SSRC()})
	}
	return out
}

// createSession installs a fresh session in both maps. A session
// already bound to the signaling connection is torn down first and
// rebuilt.
func (i *Interconnect) createSession(c *event.Conn, remoteInterface, host string, port int) (*session, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("remote media endpoint: %w", err)
	}

	ses := &session{signaling: c}
	ms, err := media.NewSession(media.SessionConfig{
		Context:           i.dtls,
		MediaConn:         i.mediaConn,
		RemoteInterface:   remoteInterface,
		RemoteMedia:       raddr,
		ReconnectInterval: i.config.ReconnectInterval(),
		KeepaliveInterval: i.config.KeepaliveInterval(),
		OnSRTPReady:       func(*media.Session) { i.srtpReady(ses) },
		Log:               i.log,
	})
	if err != nil {
		return nil, err
	}
	ses.Session = ms

	sigKey := c.RemoteAddr().String()
	mediaKey := raddr.String()

	i.mu.Lock()
	old := i.bySignaling[sigKey]
	if old != nil {
		delete(i.byMedia, old.RemoteMedia().String())
	}
	i.bySignaling[sigKey] = ses
	i.byMedia[mediaKey] = ses
	i.mu.Unlock()

	if old != nil {
		old.Close()
	}

	i.emitter.SessionCreated(remoteInterface, mediaKey)
	return ses, nil
}

func (i *Interconnect) sessionBySignaling(c *event.Conn) *session {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.bySignaling[c.RemoteAddr().String()]
}

func (i *Interconnect) sessionByMedia(raddr *net.UDPAddr) *session {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.byMedia[raddr.String()]
}

// srtpReady runs when a session finished its handshake. Only the
// active side announces its loops, once per session.
func (i *Interconnect) srtpReady(ses *session) {
	i.emitter.MediaReady(ses.RemoteInterface())

	if !i.config.Socket.Client {
		return
	}
	if ses.LoopsAdded() {
		return
	}

	i.log.Debug().Msg("connecting all loops from client to server")
	msg := event.ConnectLoops()
	event.SetLoops(msg, i.loopDefinitions())
	if err := ses.signaling.Send(msg); err != nil {
		i.log.Error().Err(err).Msg("sending connect_loops failed")
	}
}

// loopIO fans one packet from a loop's mixer out to every session;
// sessions without a binding for the loop stay silent.
func (i *Interconnect) loopIO(l *Loop, buf []byte) {
	i.mu.Lock()
	sessions := make([]*session, 0, len(i.bySignaling))
	for _, s := range i.bySignaling {
		sessions = append(sessions, s)
	}
	i.mu.Unlock()

	for _, s := range sessions {
		if err := s.ForwardLoopRTP(l, buf); err != nil {
			i.log.Error().Err(err).Str("loop", l.Name()).Msg("forwarding loop media failed")
		}
	}
}

// assignMixer reserves a mixer slot named after the loop.
func (i *Interconnect) assignMixer(name string) (MixerData, error) {
	return i.mixers.AcquireUser(name)
}

// sendAcquireMixer issues the acquire message to the chosen mixer.
func (i *Interconnect) sendAcquireMixer(data MixerData, forward event.Forward) bool {
	if err := data.Conn.Send(event.MixerAcquire(data.User, forward)); err != nil {
		i.log.Error().Err(err).Msg("sending mixer acquire failed")
		return false
	}
	return true
}

func (i *Interconnect) isRegistered(c *event.Conn) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.registered[c.RemoteAddr().String()]
	return ok
}

func (i *Interconnect) markRegistered(c *event.Conn) {
	i.mu.Lock()
	i.registered[c.RemoteAddr().String()] = struct{}{}
	i.mu.Unlock()
}

// onSignalingConnected runs on the active side once the control
// connection is up: register with the shared secret. The outbound
// connection is trusted for the responses that follow.
func (i *Interconnect) onSignalingConnected(c *event.Conn) {
	i.log.Debug().Str("remote", c.RemoteAddr().String()).Msg("opened signaling connection")

	if err := c.Send(event.Register(i.config.Name, i.config.Password)); err != nil {
		i.log.Error().Err(err).Msg("sending register failed")
		return
	}
	i.markRegistered(c)
}

// onSignalingClose drops the session negotiated over the connection
// from both maps and releases it.
func (i *Interconnect) onSignalingClose(c *event.Conn) {
	key := c.RemoteAddr().String()

	i.mu.Lock()
	ses := i.bySignaling[key]
	delete(i.bySignaling, key)
	delete(i.registered, key)
	if ses != nil {
		delete(i.byMedia, ses.RemoteMedia().String())
	}
	i.mu.Unlock()

	if ses != nil {
		ses.Close()
		i.emitter.SessionClosed(ses.RemoteInterface(), ses.RemoteMedia().String())
	}
}

// onMixerClose removes the mixer from the registry and unbinds any
// loop slot it held.
func (i *Interconnect) onMixerClose(c *event.Conn) {
	i.mixers.Unregister(c)

	i.mu.Lock()
	loops := make([]*Loop, 0, len(i.loops))
	for _, l := range i.loops {
		loops = append(loops, l)
	}
	i.mu.Unlock()

	for _, l := range loops {
		if m := l.Mixer(); m != nil && m.Conn == c {
			l.releaseMixer()
			i.emitter.MixerLost(l.Name())
		}
	}
}
