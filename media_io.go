// SPDX-License-Identifier: MPL-2.0

package interconnect

import (
	"errors"
	"net"

	"github.com/pion/stun"

	"github.com/vocnet/interconnect/media"
)

// readMediaLoop drains the shared media socket and dispatches every
// datagram by its RFC 7983 band. A failing media socket is fatal to
// all sessions.
func (i *Interconnect) readMediaLoop() {
	buf := make([]byte, 65535)
	for {
		n, raddr, err := i.mediaConn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				i.log.Error().Err(err).Msg("media socket failed")
			}
			i.closeAllSessions()
			return
		}
		if n == 0 {
			continue
		}
		i.handleMediaDatagram(buf[:n], raddr)
	}
}

func (i *Interconnect) handleMediaDatagram(buf []byte, raddr *net.UDPAddr) {
	switch media.Classify(buf[0]) {
	case media.KindSTUN:
		i.handleSTUN(buf, raddr)

	case media.KindDTLS:
		ses := i.sessionByMedia(raddr)
		if ses == nil {
			i.log.Debug().Str("remote", raddr.String()).Msg("got dtls without session - ignoring")
			return
		}
		ses.HandleDTLS(buf)

	case media.KindRTP:
		ses := i.sessionByMedia(raddr)
		if ses == nil {
			i.log.Debug().Str("remote", raddr.String()).Msg("got rtp without session - ignoring")
			return
		}
		ses.HandleRTP(buf)

	default:
		i.log.Debug().Str("remote", raddr.String()).Msg("dropping datagram outside known bands")
	}
}

// handleSTUN answers binding requests with a success response carrying
// the sender's reflexive address. Binding is the only method handled;
// it serves keepalive path verification.
func (i *Interconnect) handleSTUN(buf []byte, raddr *net.UDPAddr) {
	msg, err := media.ParseSTUN(buf)
	if err != nil {
		i.log.Debug().Err(err).Str("remote", raddr.String()).Msg("invalid stun frame")
		return
	}

	switch msg.Type {
	case stun.BindingSuccess:
		i.log.Debug().Str("remote", raddr.String()).Msg("received stun response")

	case stun.BindingRequest:
		resp, err := media.BindingSuccess(msg, raddr)
		if err != nil {
			i.log.Debug().Err(err).Msg("building stun response failed")
			return
		}
		if _, err := i.mediaConn.WriteToUDP(resp, raddr); err != nil {
			i.log.Debug().Err(err).Msg("sending stun response failed")
			return
		}
		i.log.Debug().Str("remote", raddr.String()).Msg("sent stun response")
	}
}

func (i *Interconnect) closeAllSessions() {
	i.mu.Lock()
	sessions := make([]*session, 0, len(i.bySignaling))
	for _, s := range i.bySignaling {
		sessions = append(sessions, s)
	}
	i.bySignaling = map[string]*session{}
	i.byMedia = map[string]*session{}
	i.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
