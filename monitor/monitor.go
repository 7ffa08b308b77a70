// SPDX-License-Identifier: MPL-2.0

// Package monitor carries the emit surface used to publish node state
// changes to an external monitoring sink.
package monitor

import "github.com/rs/zerolog"

// Emitter receives node lifecycle notifications. Implementations must
// not block; emits happen on the node's I/O paths.
type Emitter interface {
	MediaReady(peer string)
	SessionCreated(peer string, remote string)
	SessionClosed(peer string, remote string)
	MixerAcquired(loop string, user string)
	MixerLost(loop string)
}

// NopEmitter discards every notification.
type NopEmitter struct{}

func (NopEmitter) MediaReady(string)             {}
func (NopEmitter) SessionCreated(string, string) {}
func (NopEmitter) SessionClosed(string, string)  {}
func (NopEmitter) MixerAcquired(string, string)  {}
func (NopEmitter) MixerLost(string)              {}

// LogEmitter publishes notifications as structured log events.
type LogEmitter struct {
	Log zerolog.Logger
}

func (e LogEmitter) MediaReady(peer string) {
	e.Log.Info().Str("peer", peer).Msg("media ready")
}

func (e LogEmitter) SessionCreated(peer, remote string) {
	e.Log.Info().Str("peer", peer).Str("remote", remote).Msg("session created")
}

func (e LogEmitter) SessionClosed(peer, remote string) {
	e.Log.Info().Str("peer", peer).Str("remote", remote).Msg("session closed")
}

func (e LogEmitter) MixerAcquired(loop, user string) {
	e.Log.Info().Str("loop", loop).Str("user", user).Msg("mixer acquired")
}

func (e LogEmitter) MixerLost(loop string) {
	e.Log.Info().Str("loop", loop).Msg("mixer lost")
}
