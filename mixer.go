// SPDX-License-Identifier: MPL-2.0

package interconnect

import (
	"github.com/vocnet/interconnect/event"
)

// onMixerRegister attaches a mixer process: track it, push the local
// mixer configuration and re-attempt assignment for a loop still
// lacking a mixer.
func (i *Interconnect) onMixerRegister(c *event.Conn, m *event.Message) {
	if m.IsResponse() {
		return
	}

	i.mixers.Register(c)
	i.log.Debug().Str("remote", c.RemoteAddr().String()).Msg("registered mixer")

	if err := c.Send(event.MixerConfigure(i.config.Mixer)); err != nil {
		i.log.Error().Err(err).Msg("sending mixer configure failed")
	}

	i.assignMixerToLoops()
}

// assignMixerToLoops binds the next unserved loop to the pool; one
// assignment per trigger, further loops wait for more mixers.
func (i *Interconnect) assignMixerToLoops() {
	i.mu.Lock()
	loops := make([]*Loop, 0, len(i.loops))
	for _, l := range i.loops {
		loops = append(loops, l)
	}
	i.mu.Unlock()

	for _, l := range loops {
		if l.HasMixer() {
			continue
		}
		if l.AssignMixer() {
			return
		}
	}
}

// loopByMixer finds the loop whose slot is bound to the mixer
// connection.
func (i *Interconnect) loopByMixer(c *event.Conn) *Loop {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, l := range i.loops {
		if m := l.Mixer(); m != nil && m.Conn == c {
			return l
		}
	}
	return nil
}

// onMixerAcquire handles the mixer's answer to our acquire: on success
// the loop joins the multicast group, on failure the slot is released
// so the loop retries when the next mixer connects.
func (i *Interconnect) onMixerAcquire(c *event.Conn, m *event.Message) {
	if !m.IsResponse() {
		return
	}

	loop := i.loopByMixer(c)

	if m.ErrorCode() != 0 || loop == nil {
		i.log.Error().Int("code", m.ErrorCode()).Msg("mixer acquire not successful")
		if loop != nil {
			if slot := loop.Mixer(); slot != nil {
				i.mixers.Release(slot.Conn, slot.User)
			}
			loop.releaseMixer()
		}
		return
	}

	if err := c.Send(event.MixerJoin(loop.LoopData())); err != nil {
		i.log.Error().Err(err).Str("loop", loop.Name()).Msg("sending mixer join failed")
	}
}

// onMixerJoin logs the outcome of the join; a joined mixer completes
// the loop's media path.
func (i *Interconnect) onMixerJoin(c *event.Conn, m *event.Message) {
	if !m.IsResponse() {
		return
	}

	loop := i.loopByMixer(c)

	if m.ErrorCode() != 0 || loop == nil {
		i.log.Error().Int("code", m.ErrorCode()).Msg("mixer join not successful")
		return
	}

	i.log.Info().Str("loop", loop.Name()).Msg("mixer joined loop")
	if slot := loop.Mixer(); slot != nil {
		i.emitter.MixerAcquired(loop.Name(), slot.User)
	}
}
