// SPDX-License-Identifier: MPL-2.0

package interconnect

import (
	"github.com/vocnet/interconnect/event"
)

// onRegister handles both directions of the register exchange: the
// peer's request carrying name and password, and the response to our
// own register.
func (i *Interconnect) onRegister(c *event.Conn, m *event.Message) {
	if m.IsResponse() {
		i.onRegisterResponse(c, m)
		return
	}

	var params event.RegisterParams
	if err := event.DecodeParameter(m, &params); err != nil || params.Name == "" || params.Password == "" {
		c.Send(event.ErrorResponse(m, event.CodeParameterError, event.DescParameterError))
		return
	}

	if params.Password != i.config.Password {
		c.Send(event.ErrorResponse(m, event.CodeAuth, event.DescAuth))
		return
	}

	i.log.Debug().
		Str("remote", c.RemoteAddr().String()).
		Str("interface", params.Name).
		Msg("peer registered")
	i.markRegistered(c)

	resp := event.SuccessResponse(m)
	resp.Response["name"] = i.config.Name
	c.Send(resp)
}

// onRegisterResponse continues the active-side dance: once registered,
// announce the local media endpoint.
func (i *Interconnect) onRegisterResponse(c *event.Conn, m *event.Message) {
	if code := m.ErrorCode(); code != 0 {
		i.log.Error().Int("code", code).Str("description", m.Error.Description).Msg("register failed")
		return
	}

	var resp struct {
		Name string `json:"name"`
	}
	if err := event.DecodeResponse(m, &resp); err != nil {
		i.log.Error().Err(err).Msg("bad register response")
		return
	}
	i.log.Debug().Str("remote", resp.Name).Msg("register success")

	if i.sessionBySignaling(c) != nil {
		return
	}
	msg := event.ConnectMedia(
		i.config.Name,
		DefaultCodec,
		i.config.Socket.Media.Host,
		i.config.Socket.Media.Port,
	)
	if err := c.Send(msg); err != nil {
		i.log.Error().Err(err).Msg("sending connect_media failed")
	}
}

// onConnectMedia answers the peer's media announcement: the passive
// side eagerly creates its session and returns its own media endpoint
// and DTLS fingerprint.
func (i *Interconnect) onConnectMedia(c *event.Conn, m *event.Message) {
	if m.IsResponse() {
		i.onConnectMediaResponse(c, m)
		return
	}

	if !i.isRegistered(c) {
		i.log.Error().Str("remote", c.RemoteAddr().String()).Msg("got connect_media before register - ignoring")
		return
	}

	var params event.ConnectMediaParams
	if err := event.DecodeParameter(m, &params); err != nil ||
		params.Name == "" || params.Codec == "" || params.Host == "" || params.Port == 0 {
		c.Send(event.ErrorResponse(m, event.CodeParameterError, event.DescParameterError))
		return
	}

	if params.Codec != DefaultCodec {
		c.Send(event.ErrorResponse(m, event.CodeCodecError, event.DescCodecError))
		return
	}

	if _, err := i.createSession(c, params.Name, params.Host, params.Port); err != nil {
		i.log.Error().Err(err).Msg("creating session failed")
		c.Send(event.ErrorResponse(m, event.CodeProcessingError, event.DescProcessingError))
		return
	}

	i.log.Debug().
		Str("interface", params.Name).
		Str("media", params.Host).
		Int("port", params.Port).
		Msg("got media invite")

	resp := event.SuccessResponse(m)
	resp.Response["name"] = i.config.Name
	resp.Response["host"] = i.config.Socket.Media.Host
	resp.Response["port"] = i.config.Socket.Media.Port
	resp.Response["fingerprint"] = i.dtls.Fingerprint()
	c.Send(resp)
}

// onConnectMediaResponse creates the active-side session from the
// peer's media endpoint and starts the DTLS handshake against the
// advertised fingerprint.
func (i *Interconnect) onConnectMediaResponse(c *event.Conn, m *event.Message) {
	if code := m.ErrorCode(); code != 0 {
		i.log.Error().Int("code", code).Str("description", m.Error.Description).Msg("connect_media failed")
		return
	}

	var resp event.ConnectMediaResponse
	if err := event.DecodeResponse(m, &resp); err != nil ||
		resp.Name == "" || resp.Host == "" || resp.Port == 0 || resp.Fingerprint == "" {
		i.log.Error().Msg("connect_media response parameter missing")
		return
	}

	i.log.Debug().
		Str("interface", resp.Name).
		Str("media", resp.Host).
		Int("port", resp.Port).
		Msg("got remote media parameter")

	ses, err := i.createSession(c, resp.Name, resp.Host, resp.Port)
	if err != nil {
		i.log.Error().Err(err).Msg("creating session failed")
		return
	}
	if err := ses.HandshakeActive(resp.Fingerprint); err != nil {
		i.log.Error().Err(err).Msg("starting handshake failed")
	}
}

// onConnectLoops binds the loop lists of both sides. For every loop
// name present on both, the peer SSRC is recorded on the session; loop
// names only one side knows are silently ignored.
func (i *Interconnect) onConnectLoops(c *event.Conn, m *event.Message) {
	if m.IsResponse() {
		i.onConnectLoopsResponse(c, m)
		return
	}

	var params event.ConnectLoopsBody
	if err := event.DecodeParameter(m, &params); err != nil {
		c.Send(event.ErrorResponse(m, event.CodeParameterError, event.DescParameterError))
		return
	}

	ses := i.sessionBySignaling(c)
	if ses == nil {
		c.Send(event.ErrorResponse(m, event.CodeSessionUnknown, event.DescSessionUnknown))
		return
	}

	reply := make([]event.LoopEntry, 0, len(params.Loops))
	for _, entry := range params.Loops {
		if entry.Name == "" || entry.SSRC == 0 {
			c.Send(event.ErrorResponse(m, event.CodeProcessingError, event.DescProcessingError))
			return
		}
		loop := i.Loop(entry.Name)
		if loop == nil {
			continue
		}
		ses.AddLoop(loop, entry.SSRC)
		i.log.Debug().Str("loop", entry.Name).Msg("adding loop to session")
		reply = append(reply, event.LoopEntry{Name: entry.Name, SSRC: loop.SSRC()})
	}
	ses.SetLoopsAdded()

	resp := event.SuccessResponse(m)
	loops := make([]any, len(reply))
	for idx, e := range reply {
		loops[idx] = map[string]any{"name": e.Name, "ssrc": e.SSRC}
	}
	resp.Response["loops"] = loops
	c.Send(resp)
}

// onConnectLoopsResponse records the peer SSRC for every loop both
// sides share, then latches the session as fully connected.
func (i *Interconnect) onConnectLoopsResponse(c *event.Conn, m *event.Message) {
	if code := m.ErrorCode(); code != 0 {
		i.log.Error().Int("code", code).Str("description", m.Error.Description).Msg("connect_loops failed")
		return
	}

	var resp event.ConnectLoopsBody
	if err := event.DecodeResponse(m, &resp); err != nil {
		i.log.Error().Err(err).Msg("bad connect_loops response")
		return
	}

	ses := i.sessionBySignaling(c)
	if ses == nil {
		i.log.Error().Msg("connect_loops response without session")
		return
	}

	for _, entry := range resp.Loops {
		if entry.Name == "" || entry.SSRC == 0 {
			continue
		}
		loop := i.Loop(entry.Name)
		if loop == nil {
			continue
		}
		ses.AddLoop(loop, entry.SSRC)
		i.log.Debug().Str("loop", entry.Name).Msg("adding loop to session")
	}
	ses.SetLoopsAdded()
}
