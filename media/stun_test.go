// SPDX-License-Identifier: MPL-2.0

package media

import (
	"net"
	"testing"

	"github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingRequestAnswer(t *testing.T) {
	raddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 34567}

	reqRaw, err := BindingRequest()
	require.NoError(t, err)
	// The request stays inside the RFC 7983 STUN band.
	assert.Equal(t, KindSTUN, Classify(reqRaw[0]))

	req, err := ParseSTUN(reqRaw)
	require.NoError(t, err)
	assert.Equal(t, stun.BindingRequest, req.Type)

	respRaw, err := BindingSuccess(req, raddr)
	require.NoError(t, err)
	assert.Equal(t, KindSTUN, Classify(respRaw[0]))

	resp, err := ParseSTUN(respRaw)
	require.NoError(t, err)
	assert.Equal(t, stun.BindingSuccess, resp.Type)
	assert.Equal(t, req.TransactionID, resp.TransactionID)

	var mapped stun.XORMappedAddress
	require.NoError(t, mapped.GetFrom(resp))
	assert.True(t, mapped.IP.Equal(raddr.IP))
	assert.Equal(t, raddr.Port, mapped.Port)
}

func TestParseSTUNGarbage(t *testing.T) {
	_, err := ParseSTUN([]byte{0x00, 0x01, 0x02})
	assert.Error(t, err)
}
