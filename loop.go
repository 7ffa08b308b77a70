// SPDX-License-Identifier: MPL-2.0

package interconnect

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vocnet/interconnect/event"
)

// mixerPayloadType is the RTP payload type announced in the mixer
// forward descriptor.
const mixerPayloadType = 100

// defaultLoopVolumePercent and loopVolumeBits give the volume sent on
// mixer join: 50% on a 3-bit scale.
const (
	defaultLoopVolumePercent = 50
	loopVolumeBits           = 3
)

// Loop is one local multicast conference endpoint: a stable random
// SSRC, a loopback socket receiving the mixer's egress and the
// multicast group the conference listens on.
type Loop struct {
	node      *Interconnect
	name      string
	multicast *net.UDPAddr
	conn      *net.UDPConn
	local     *net.UDPAddr
	ssrc      uint32
	log       zerolog.Logger

	mu    sync.Mutex
	mixer *MixerData
}

func newLoop(node *Interconnect, name string, multicast SocketConfig, internal SocketConfig) (*Loop, error) {
	if name == "" {
		return nil, fmt.Errorf("loop: name must be set")
	}
	if multicast.Host == "" || multicast.Port == 0 {
		return nil, fmt.Errorf("loop %s: multicast endpoint must be set", name)
	}
	if internal.Host == "" {
		return nil, fmt.Errorf("loop %s: internal host must be set", name)
	}

	maddr, err := net.ResolveUDPAddr("udp", multicast.Addr())
	if err != nil {
		return nil, fmt.Errorf("loop %s: multicast endpoint: %w", name, err)
	}

	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(internal.Host, "0"))
	if err != nil {
		return nil, fmt.Errorf("loop %s: internal host: %w", name, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("loop %s: could not open receive socket: %w", name, err)
	}

	l := &Loop{
		node:      node,
		name:      name,
		multicast: maddr,
		conn:      conn,
		local:     conn.LocalAddr().(*net.UDPAddr),
		ssrc:      randomSSRC(),
		log:       node.log.With().Str("loop", name).Logger(),
	}

	l.log.Debug().
		Str("local", l.local.String()).
		Str("multicast", maddr.String()).
		Msg("opened loop receiver")

	go l.readLoop()
	return l, nil
}

// readLoop hands every packet from the mixer to the node, which fans
// it out to every session subscribed to this loop.
func (l *Loop) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		l.node.loopIO(l, buf[:n])
	}
}

func (l *Loop) Name() string { return l.name }

// SSRC is drawn once at creation and stable for the loop's lifetime.
// Remote peers learn it during connect_loops.
func (l *Loop) SSRC() uint32 { return l.ssrc }

// LocalAddr is the loopback endpoint the mixer forwards to.
func (l *Loop) LocalAddr() *net.UDPAddr { return l.local }

// Send transmits a buffer to the loop's multicast group.
func (l *Loop) Send(buf []byte) error {
	n, err := l.conn.WriteToUDP(buf, l.multicast)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("loop %s: short write %d of %d", l.name, n, len(buf))
	}
	return nil
}

// HasMixer reports whether a mixer slot is bound to this loop.
func (l *Loop) HasMixer() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mixer != nil
}

// Mixer returns the bound mixer slot, if any.
func (l *Loop) Mixer() *MixerData {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mixer
}

// AssignMixer reserves a mixer slot named after the loop and sends the
// acquire message pointing the mixer's egress at the loop's receive
// socket.
func (l *Loop) AssignMixer() bool {
	l.mu.Lock()
	if l.mixer != nil {
		l.mu.Unlock()
		return true
	}
	l.mu.Unlock()

	data, err := l.node.assignMixer(l.name)
	if err != nil {
		l.log.Debug().Err(err).Msg("no mixer available")
		return false
	}

	l.mu.Lock()
	l.mixer = &data
	l.mu.Unlock()

	l.log.Debug().Str("user", data.User).Msg("assigned mixer to loop")
	return l.node.sendAcquireMixer(data, l.Forward())
}

// releaseMixer drops the slot, e.g. when the mixer disconnected.
func (l *Loop) releaseMixer() {
	l.mu.Lock()
	l.mixer = nil
	l.mu.Unlock()
}

// Forward describes where the assigned mixer shall send this loop's
// mixed stream.
func (l *Loop) Forward() event.Forward {
	return event.Forward{
		Socket: event.Socket{
			Host: l.local.IP.String(),
			Port: l.local.Port,
			Type: "UDP",
		},
		SSRC:        l.ssrc,
		PayloadType: mixerPayloadType,
	}
}

// LoopData describes the loop for the mixer join message.
func (l *Loop) LoopData() event.LoopData {
	return event.LoopData{
		Name: l.name,
		Socket: event.Socket{
			Host: l.multicast.IP.String(),
			Port: l.multicast.Port,
		},
		Volume: volumeFromPercent(defaultLoopVolumePercent, loopVolumeBits),
	}
}

// Close releases the receive socket and the mixer slot.
func (l *Loop) Close() error {
	err := l.conn.Close()
	l.mu.Lock()
	mixer := l.mixer
	l.mixer = nil
	l.mu.Unlock()
	if mixer != nil {
		l.node.mixers.Release(mixer.Conn, mixer.User)
	}
	return err
}

func randomSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("loop: drawing ssrc: %v", err))
	}
	return binary.BigEndian.Uint32(b[:])
}

// volumeFromPercent maps a percent volume onto an n-bit scale.
func volumeFromPercent(percent float64, bits int) uint8 {
	max := float64(int(1)<<bits - 1)
	return uint8(math.Round(percent * max / 100))
}
