package acceptor

import (
	"bufio"
	"encoding/binary"
	"net"
)

// peekLen is the number of leading bytes inspected to classify a
// WebRTC-over-TCP connection: a 2-byte frame length, the 2-byte STUN
// message type, the 2-byte STUN message length, and the 4-byte magic
// cookie that together identify a Binding Request prefixed with its
// frame length, e.g.:
//
//	00 6c  # frame length: 0x006c = 108
//	00 01  # message type: Binding Request (0x0001)
//	00 58  # message length: 0x0058 = 88
//	21 12 a4 42  # message cookie
const peekLen = 10

// stunMagicCookie is the fixed value every STUN message carries at bytes
// 6-9 of the framed form, per RFC 5389.
const stunMagicCookie = 0x2112A442

// stunBindingRequestMethod is the message type of a STUN Binding Request:
// class 0b00 (request), method 0x001.
const stunBindingRequestMethod = 0x0001

// stunFrameOverhead is frame_length - message_length for a Binding
// Request: the 20-byte STUN fixed header that precedes the message body.
const stunFrameOverhead = 20

// Protocol identifies which handler a peeked connection should be routed
// to.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolSTUN
	ProtocolHTTP
)

// PeekProtocol reads up to peekLen bytes from r without consuming them
// (via bufio.Reader.Peek) and classifies the connection as STUN or HTTP.
// Anything that isn't a recognizable STUN binding request is treated as
// HTTP, since the WebRTC-TCP listener's only other traffic is browser
// signaling.
func PeekProtocol(r *bufio.Reader) (Protocol, error) {
	peeked, err := r.Peek(peekLen)
	if err != nil {
		// Fewer than peekLen bytes is not itself an error worth failing
		// the connection over; classify on what's there.
		peeked, _ = r.Peek(r.Buffered())
	}
	if isSTUNBindingRequest(peeked) {
		return ProtocolSTUN, nil
	}
	return ProtocolHTTP, nil
}

func isSTUNBindingRequest(b []byte) bool {
	if len(b) < peekLen {
		return false
	}
	frameLength := binary.BigEndian.Uint16(b[0:2])
	msgType := binary.BigEndian.Uint16(b[2:4])
	msgLength := binary.BigEndian.Uint16(b[4:6])
	cookie := binary.BigEndian.Uint32(b[6:10])
	return msgType == stunBindingRequestMethod &&
		frameLength-msgLength == stunFrameOverhead &&
		cookie == stunMagicCookie
}

// NewPeekingReader wraps conn in a bufio.Reader sized to cover peekLen, so
// PeekProtocol never has to grow the buffer mid-peek.
func NewPeekingReader(conn net.Conn) *bufio.Reader {
	return bufio.NewReaderSize(conn, 4096)
}
