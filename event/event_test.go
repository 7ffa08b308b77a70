// SPDX-License-Identifier: MPL-2.0

package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	m := NewMessage("register", "")
	assert.Equal(t, "register", m.Event)
	assert.NotEmpty(t, m.UUID)
	assert.Equal(t, Version, m.Version)
	assert.False(t, m.IsResponse())

	m2 := NewMessage("register", "my-uuid")
	assert.Equal(t, "my-uuid", m2.UUID)
}

func TestSuccessResponseEchoesRequest(t *testing.T) {
	req := Register("site1", "secret")
	resp := SuccessResponse(req)
	resp.Response["name"] = "site2"

	assert.True(t, resp.IsResponse())
	assert.Equal(t, req.Event, resp.Event)
	assert.Equal(t, req.UUID, resp.UUID)
	require.NotNil(t, resp.Request)
	assert.Equal(t, req.UUID, resp.Request["uuid"])
	assert.Equal(t, req.Event, resp.Request["event"])
	assert.Nil(t, resp.Error)
}

func TestErrorResponse(t *testing.T) {
	req := ConnectMedia("site1", "opus/48000/2", "127.0.0.1", 40000)
	resp := ErrorResponse(req, CodeAuth, DescAuth)

	assert.True(t, resp.IsResponse())
	assert.Equal(t, CodeAuth, resp.ErrorCode())
	assert.Equal(t, DescAuth, resp.Error.Description)
	assert.Equal(t, req.UUID, resp.Request["uuid"])
	assert.Nil(t, resp.Response)
}

func TestEnvelopeWireShape(t *testing.T) {
	req := Register("site1", "secret")
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "register", raw["event"])
	assert.Equal(t, float64(1), raw["version"])
	assert.NotEmpty(t, raw["uuid"])
	param := raw["parameter"].(map[string]any)
	assert.Equal(t, "site1", param["name"])
	assert.Equal(t, "secret", param["password"])
	_, hasResponse := raw["response"]
	assert.False(t, hasResponse)
}

func TestDecodeParameter(t *testing.T) {
	// A message as it comes off the decoder: everything untyped.
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"event": "connect_media", "uuid": "u1", "version": 1,
		"parameter": {"name": "site1", "codec": "opus/48000/2", "host": "10.0.0.1", "port": 40000}
	}`), &m))

	var params ConnectMediaParams
	require.NoError(t, DecodeParameter(&m, &params))
	assert.Equal(t, "site1", params.Name)
	assert.Equal(t, "opus/48000/2", params.Codec)
	assert.Equal(t, "10.0.0.1", params.Host)
	assert.Equal(t, 40000, params.Port)

	var noParam Message
	require.NoError(t, json.Unmarshal([]byte(`{"event":"x","uuid":"u","version":1}`), &noParam))
	assert.Error(t, DecodeParameter(&noParam, &params))
}

func TestDecodeResponseLoops(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"event": "connect_loops", "uuid": "u2", "version": 1,
		"response": {"loops": [{"name": "alpha", "ssrc": 12345}, {"name": "beta", "ssrc": 678}]}
	}`), &m))
	assert.True(t, m.IsResponse())

	var body ConnectLoopsBody
	require.NoError(t, DecodeResponse(&m, &body))
	require.Len(t, body.Loops, 2)
	assert.Equal(t, "alpha", body.Loops[0].Name)
	assert.Equal(t, uint32(12345), body.Loops[0].SSRC)
}

func TestErrorRoundTrip(t *testing.T) {
	resp := ErrorResponse(NewMessage("register", "u3"), CodeParameterError, DescParameterError)
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, CodeParameterError, back.ErrorCode())
	assert.Equal(t, DescParameterError, back.Error.Description)
	assert.True(t, back.IsResponse())
}
