// SPDX-License-Identifier: MPL-2.0

package media

import "encoding/binary"

// RTPHeaderSize is the fixed part of the RTP header.
const RTPHeaderSize = 12

const ssrcOffset = 8

// RTPSSRC reads the SSRC field of a raw RTP packet. It reports false
// when the buffer is too short to carry an RTP header.
func RTPSSRC(buf []byte) (uint32, bool) {
	if len(buf) < RTPHeaderSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[ssrcOffset : ssrcOffset+4]), true
}

// RewriteSSRC overwrites the SSRC field of a raw RTP packet in place.
// Sequence number and timestamp are left untouched.
func RewriteSSRC(buf []byte, ssrc uint32) bool {
	if len(buf) < RTPHeaderSize {
		return false
	}
	binary.BigEndian.PutUint32(buf[ssrcOffset:ssrcOffset+4], ssrc)
	return true
}
