// SPDX-License-Identifier: MPL-2.0

package interconnect

import (
	"fmt"
	"sync"

	"github.com/vocnet/interconnect/event"
)

// DefaultMixerCapacity is the number of users one mixer process can
// serve when it does not announce a capacity of its own.
const DefaultMixerCapacity = 16

// MixerData is a reserved mixer slot: the mixer's control connection
// and the user identifier reserved on it.
type MixerData struct {
	Conn *event.Conn
	User string
}

type mixerEntry struct {
	conn     *event.Conn
	capacity int
	users    map[string]struct{}
}

// MixerRegistry tracks the pool of attached mixer processes and hands
// out per-loop user slots.
type MixerRegistry struct {
	mu     sync.Mutex
	mixers map[*event.Conn]*mixerEntry
}

func NewMixerRegistry() *MixerRegistry {
	return &MixerRegistry{
		mixers: make(map[*event.Conn]*mixerEntry),
	}
}

// Register adds a mixer control connection to the pool.
func (r *MixerRegistry) Register(conn *event.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mixers[conn]; ok {
		return
	}
	r.mixers[conn] = &mixerEntry{
		conn:     conn,
		capacity: DefaultMixerCapacity,
		users:    make(map[string]struct{}),
	}
}

// Unregister removes a mixer from the pool, dropping every user
// reserved on it.
func (r *MixerRegistry) Unregister(conn *event.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mixers, conn)
}

// Registered reports whether the connection belongs to a tracked
// mixer.
func (r *MixerRegistry) Registered(conn *event.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.mixers[conn]
	return ok
}

// AcquireUser reserves a user named after the loop on the mixer with
// the most spare capacity.
func (r *MixerRegistry) AcquireUser(name string) (MixerData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pick *mixerEntry
	for _, m := range r.mixers {
		if len(m.users) >= m.capacity {
			continue
		}
		if pick == nil || len(m.users) < len(pick.users) {
			pick = m
		}
	}
	if pick == nil {
		return MixerData{}, fmt.Errorf("no mixer with spare capacity")
	}

	pick.users[name] = struct{}{}
	return MixerData{Conn: pick.conn, User: name}, nil
}

// Release frees a reserved user slot.
func (r *MixerRegistry) Release(conn *event.Conn, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mixers[conn]; ok {
		delete(m.users, user)
	}
}

// Count returns the number of attached mixers.
func (r *MixerRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mixers)
}
