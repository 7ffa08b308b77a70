// SPDX-License-Identifier: MPL-2.0

package media

import (
	"net"

	"github.com/pion/stun"
)

// ParseSTUN decodes a datagram from the STUN band. It returns an error
// for frames that are not valid STUN messages.
func ParseSTUN(buf []byte) (*stun.Message, error) {
	m := &stun.Message{Raw: append([]byte{}, buf...)}
	if err := m.Decode(); err != nil {
		return nil, err
	}
	return m, nil
}

// BindingRequest builds a fresh STUN binding request used as keepalive.
func BindingRequest() ([]byte, error) {
	m, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, err
	}
	return m.Raw, nil
}

// BindingSuccess answers a binding request with a success response
// carrying the sender's reflexive address.
func BindingSuccess(req *stun.Message, raddr *net.UDPAddr) ([]byte, error) {
	m, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: raddr.IP, Port: raddr.Port},
	)
	if err != nil {
		return nil, err
	}
	return m.Raw, nil
}
