// SPDX-License-Identifier: MPL-2.0

package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	return &back
}

func TestConnectLoopsBuilder(t *testing.T) {
	m := ConnectLoops()
	SetLoops(m, []LoopEntry{
		{Name: "alpha", SSRC: 111},
		{Name: "beta", SSRC: 222},
	})

	back := roundTrip(t, m)
	var body ConnectLoopsBody
	require.NoError(t, DecodeParameter(back, &body))
	require.Len(t, body.Loops, 2)
	assert.Equal(t, LoopEntry{Name: "alpha", SSRC: 111}, body.Loops[0])
	assert.Equal(t, LoopEntry{Name: "beta", SSRC: 222}, body.Loops[1])
}

func TestMixerAcquireBuilder(t *testing.T) {
	m := MixerAcquire("alpha", Forward{
		Socket:      Socket{Host: "127.0.0.1", Port: 41000, Type: "UDP"},
		SSRC:        0xcafe,
		PayloadType: 100,
	})

	back := roundTrip(t, m)
	assert.Equal(t, EventMixerAcquire, back.Event)

	var params struct {
		User    string  `json:"user"`
		Forward Forward `json:"forward"`
	}
	require.NoError(t, DecodeParameter(back, &params))
	assert.Equal(t, "alpha", params.User)
	assert.Equal(t, "127.0.0.1", params.Forward.Socket.Host)
	assert.Equal(t, 41000, params.Forward.Socket.Port)
	assert.Equal(t, uint32(0xcafe), params.Forward.SSRC)
	assert.Equal(t, uint8(100), params.Forward.PayloadType)
}

func TestMixerJoinBuilder(t *testing.T) {
	m := MixerJoin(LoopData{
		Name:   "alpha",
		Socket: Socket{Host: "239.255.0.1", Port: 5004},
		Volume: 4,
	})

	back := roundTrip(t, m)
	assert.Equal(t, EventMixerJoin, back.Event)

	var params struct {
		Loop LoopData `json:"loop"`
	}
	require.NoError(t, DecodeParameter(back, &params))
	assert.Equal(t, "alpha", params.Loop.Name)
	assert.Equal(t, "239.255.0.1", params.Loop.Socket.Host)
	assert.Equal(t, 5004, params.Loop.Socket.Port)
	assert.Equal(t, uint8(4), params.Loop.Volume)
}

func TestMixerConfigureBuilder(t *testing.T) {
	m := MixerConfigure(map[string]any{"frames": 50})
	back := roundTrip(t, m)
	assert.Equal(t, EventMixerConfigure, back.Event)
	assert.EqualValues(t, 50, back.Parameter["frames"])

	empty := MixerConfigure(nil)
	assert.NotNil(t, empty.Parameter)
}
