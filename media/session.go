// SPDX-License-Identifier: MPL-2.0

package media

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
	"github.com/rs/zerolog"
)

var (
	// RTPBufSize sizes the per-session forwarding buffers. SRTP adds a
	// trailer, so buffers keep headroom beyond the MTU.
	RTPBufSize = 1500 + 64

	RTPDebug = false
)

// HandshakeRetryMax bounds the handshake: after this many reconnect
// intervals without a completed handshake the association is closed
// and the session abandoned. The signaling flow builds a fresh session
// on the next connect_media.
var HandshakeRetryMax = 100

// SessionState is the lifecycle state of a media session.
type SessionState int

const (
	StateCreated SessionState = iota
	StateHandshaking
	StateSRTPReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHandshaking:
		return "handshaking"
	case StateSRTPReady:
		return "srtp_ready"
	case StateClosed:
		return "closed"
	}
	return "invalid"
}

// LoopPort is the session's view of a local multicast loop.
type LoopPort interface {
	Name() string
	SSRC() uint32
	Send(buf []byte) error
}

// SessionConfig wires a session to its parent node.
type SessionConfig struct {
	Context *DTLSContext

	// MediaConn is the node's shared media socket.
	MediaConn *net.UDPConn

	RemoteInterface string
	RemoteMedia     *net.UDPAddr

	// ReconnectInterval paces handshake retransmission on the active
	// side. KeepaliveInterval paces STUN binding requests once SRTP is
	// up.
	ReconnectInterval time.Duration
	KeepaliveInterval time.Duration

	// OnSRTPReady fires once after the handshake completed and both
	// SRTP contexts are installed.
	OnSRTPReady func(s *Session)

	Log zerolog.Logger
}

type loopBinding struct {
	loop       LoopPort
	localSSRC  uint32
	remoteSSRC uint32
}

// Session is the per-remote-peer media state: one DTLS association,
// its SRTP contexts and the loop bindings used for bidirectional
// forwarding.
type Session struct {
	config SessionConfig
	log    zerolog.Logger

	endpoint *endpoint

	mu         sync.Mutex
	state      SessionState
	dtlsConn   *dtls.Conn
	srtpIn     *srtp.Context
	srtpOut    *srtp.Context
	byName     map[string]*loopBinding
	bySSRC     map[uint32]*loopBinding
	loopsAdded bool

	keepaliveStop chan struct{}
	encBuf        []byte
	decBuf        []byte
}

func NewSession(conf SessionConfig) (*Session, error) {
	if conf.Context == nil {
		return nil, fmt.Errorf("session: dtls context must be set")
	}
	if conf.MediaConn == nil {
		return nil, fmt.Errorf("session: media socket must be set")
	}
	if conf.RemoteMedia == nil {
		return nil, fmt.Errorf("session: remote media endpoint must be set")
	}
	if conf.ReconnectInterval == 0 {
		conf.ReconnectInterval = 100 * time.Millisecond
	}
	if conf.KeepaliveInterval == 0 {
		conf.KeepaliveInterval = 300 * time.Second
	}

	s := &Session{
		config:   conf,
		log:      conf.Log.With().Str("peer", conf.RemoteInterface).Logger(),
		endpoint: newEndpoint(conf.MediaConn, conf.RemoteMedia),
		state:    StateCreated,
		byName:   make(map[string]*loopBinding),
		bySSRC:   make(map[uint32]*loopBinding),
		encBuf:   make([]byte, 0, RTPBufSize),
		decBuf:   make([]byte, 0, RTPBufSize),
	}
	return s, nil
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RemoteInterface() string { return s.config.RemoteInterface }

func (s *Session) RemoteMedia() *net.UDPAddr { return s.config.RemoteMedia }

// HandshakeActive starts the DTLS handshake towards the peer. The
// expected peer fingerprint was learned from the connect_media
// response; a mismatching peer certificate aborts the handshake.
func (s *Session) HandshakeActive(peerFingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return fmt.Errorf("session: handshake in state %s", s.state)
	}

	conf := s.config.Context.clientConfig(peerFingerprint, s.config.ReconnectInterval)
	conn, err := dtls.Client(s.endpoint, s.config.RemoteMedia, conf)
	if err != nil {
		return fmt.Errorf("session: dtls client setup: %w", err)
	}
	s.dtlsConn = conn
	s.state = StateHandshaking

	go s.runHandshake(conn, true)
	return nil
}

// handshakePassive spins up the server side of the handshake, driven
// by the ClientHello that just arrived. Caller holds s.mu.
func (s *Session) handshakePassive() error {
	conf := s.config.Context.serverConfig()
	conn, err := dtls.Server(s.endpoint, s.config.RemoteMedia, conf)
	if err != nil {
		return fmt.Errorf("session: dtls server setup: %w", err)
	}
	s.dtlsConn = conn
	s.state = StateHandshaking

	go s.runHandshake(conn, false)
	return nil
}

// runHandshake drives the handshake with a bounded watchdog. The DTLS
// stack retransmits flights at the reconnect interval; the watchdog
// closes the association after HandshakeRetryMax intervals.
func (s *Session) runHandshake(conn *dtls.Conn, client bool) {
	watchdog := time.AfterFunc(
		time.Duration(HandshakeRetryMax)*s.config.ReconnectInterval,
		func() { conn.Close() },
	)
	err := conn.Handshake()
	watchdog.Stop()

	if err != nil {
		s.log.Debug().Err(err).Bool("client", client).Msg("dtls handshake failed")
		s.Close()
		return
	}
	if err := s.completeHandshake(conn, client); err != nil {
		s.log.Error().Err(err).Msg("srtp setup failed")
		s.Close()
	}
}

// completeHandshake exports the keying material of the negotiated SRTP
// profile and installs the inbound and outbound contexts. The side
// that initiated the handshake writes with the client half.
func (s *Session) completeHandshake(conn *dtls.Conn, client bool) error {
	state, ok := conn.ConnectionState()
	if !ok {
		return fmt.Errorf("failed to get dtls connection state")
	}

	prof, ok := conn.SelectedSRTPProtectionProfile()
	if !ok {
		return fmt.Errorf("no srtp profile negotiated")
	}
	profile := srtp.ProtectionProfile(prof)

	masterKeyLen, err := profile.KeyLen()
	if err != nil {
		return fmt.Errorf("dtls - failed to get master keylen: %w", err)
	}
	masterSaltLen, err := profile.SaltLen()
	if err != nil {
		return fmt.Errorf("dtls - failed to get master saltlen: %w", err)
	}

	keyingMaterial, err := state.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 2*(masterKeyLen+masterSaltLen))
	if err != nil {
		return fmt.Errorf("dtls - failed to export keying material: %w", err)
	}

	clientKey := keyingMaterial[:masterKeyLen]
	serverKey := keyingMaterial[masterKeyLen : 2*masterKeyLen]
	clientSalt := keyingMaterial[2*masterKeyLen : 2*masterKeyLen+masterSaltLen]
	serverSalt := keyingMaterial[2*masterKeyLen+masterSaltLen:]

	localKey, localSalt := clientKey, clientSalt
	remoteKey, remoteSalt := serverKey, serverSalt
	if !client {
		localKey, remoteKey = remoteKey, localKey
		localSalt, remoteSalt = remoteSalt, localSalt
	}

	srtpOut, err := srtp.CreateContext(localKey, localSalt, profile)
	if err != nil {
		return fmt.Errorf("failed to create outbound SRTP context: %w", err)
	}
	srtpIn, err := srtp.CreateContext(remoteKey, remoteSalt, profile)
	if err != nil {
		return fmt.Errorf("failed to create inbound SRTP context: %w", err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("session closed during handshake")
	}
	s.srtpOut = srtpOut
	s.srtpIn = srtpIn
	s.state = StateSRTPReady
	s.keepaliveStop = make(chan struct{})
	go s.keepalive(s.keepaliveStop)
	s.mu.Unlock()

	s.log.Debug().Bool("client", client).Msg("srtp ready")

	if s.config.OnSRTPReady != nil {
		s.config.OnSRTPReady(s)
	}
	return nil
}

// keepalive sends a STUN binding request to the remote media endpoint
// on every interval. It is a liveness hint only; responses are not
// awaited.
func (s *Session) keepalive(stop chan struct{}) {
	ticker := time.NewTicker(s.config.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			req, err := BindingRequest()
			if err != nil {
				continue
			}
			if _, err := s.config.MediaConn.WriteToUDP(req, s.config.RemoteMedia); err != nil {
				s.log.Debug().Err(err).Msg("keepalive send failed")
			}
		}
	}
}

// AddLoop records the peer binding for a local loop. Forwarding uses
// the table in both directions.
func (s *Session) AddLoop(loop LoopPort, remoteSSRC uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &loopBinding{
		loop:       loop,
		localSSRC:  loop.SSRC(),
		remoteSSRC: remoteSSRC,
	}
	s.byName[loop.Name()] = b
	s.bySSRC[remoteSSRC] = b
	s.bySSRC[b.localSSRC] = b
}

// HasLoop reports whether a binding exists for the loop name.
func (s *Session) HasLoop(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byName[name]
	return ok
}

// LoopsAdded reports whether the connect_loops exchange has completed
// for this session.
func (s *Session) LoopsAdded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopsAdded
}

// SetLoopsAdded latches completion of the connect_loops exchange.
func (s *Session) SetLoopsAdded() {
	s.mu.Lock()
	s.loopsAdded = true
	s.mu.Unlock()
}

// HandleDTLS feeds one demuxed DTLS record into the handshake stack.
// The first record on a session without DTLS state makes this side the
// passive one.
func (s *Session) HandleDTLS(buf []byte) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.dtlsConn == nil {
		if err := s.handshakePassive(); err != nil {
			s.log.Error().Err(err).Msg("passive handshake setup failed")
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()

	s.endpoint.deliver(buf)
}

// HandleRTP processes one demuxed SRTP packet from the peer: decrypt,
// remap the SSRC to the local loop and send to the loop's multicast
// group. Media arriving before the handshake completed is silently
// discarded; a failing packet is dropped without tearing the session.
func (s *Session) HandleRTP(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSRTPReady {
		if RTPDebug {
			s.log.Debug().Str("state", s.state.String()).Msg("dropping rtp before srtp ready")
		}
		return
	}

	decrypted, err := s.srtpIn.DecryptRTP(s.decBuf[:0], buf, &rtp.Header{})
	if err != nil {
		s.log.Debug().Err(err).Msg("srtp unprotect failed")
		return
	}

	ssrc, ok := RTPSSRC(decrypted)
	if !ok {
		return
	}
	binding, ok := s.bySSRC[ssrc]
	if !ok {
		if RTPDebug {
			s.log.Debug().Uint32("ssrc", ssrc).Msg("rtp for unknown ssrc")
		}
		return
	}

	RewriteSSRC(decrypted, binding.localSSRC)
	if err := binding.loop.Send(decrypted); err != nil {
		s.log.Debug().Err(err).Str("loop", binding.loop.Name()).Msg("loop send failed")
	}
}

// ForwardLoopRTP sends one RTP packet received from a local loop to the
// peer: rewrite the SSRC to the peer-agreed remote SSRC, protect and
// send on the shared media socket. Sessions without SRTP keying or a
// binding for the loop stay silent.
func (s *Session) ForwardLoopRTP(loop LoopPort, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSRTPReady {
		return nil
	}
	binding, ok := s.byName[loop.Name()]
	if !ok {
		return nil
	}
	if len(buf) < RTPHeaderSize {
		return nil
	}

	RewriteSSRC(buf, binding.remoteSSRC)

	encrypted, err := s.srtpOut.EncryptRTP(s.encBuf[:0], buf, &rtp.Header{})
	if err != nil {
		s.log.Debug().Err(err).Msg("srtp protect failed")
		return nil
	}

	if _, err := s.config.MediaConn.WriteToUDP(encrypted, s.config.RemoteMedia); err != nil {
		return fmt.Errorf("media socket write: %w", err)
	}
	return nil
}

// Close disarms timers, frees the DTLS association and the SRTP
// contexts. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
		s.keepaliveStop = nil
	}
	conn := s.dtlsConn
	s.dtlsConn = nil
	s.srtpIn = nil
	s.srtpOut = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.endpoint.Close()
	return nil
}
