package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Kind discriminates frame contents. The numeric values are the packet
// framing's on-wire type codes.
type Kind byte

const (
	KindUserInput Kind = 1 // player move, ship placement, or chat from client
	KindSystem    Kind = 2 // system messages from server
	KindChat      Kind = 3 // chat between players/spectators
	KindBoard     Kind = 4 // board/grid updates
	KindGameState Kind = 5 // game start, end, or status updates
	KindError     Kind = 6 // error or invalid packet notification
	KindAck       Kind = 7 // acknowledgement
)

// ErrChecksum is returned by PacketCodec when a received packet fails
// checksum verification. The stream stays consistent: the bad frame has
// been fully consumed and the session continues.
var ErrChecksum = errors.New("packet checksum mismatch")

// Frame is one logical message in either direction.
type Frame struct {
	Kind    Kind
	Payload string
}

// FrameCodec is one of the two interchangeable framings over a TCP byte
// stream. The server selects a single framing for its whole process;
// framings are never mixed on one session.
//
// Implementations are not safe for concurrent use. All writes for a
// client go through its single write pump.
type FrameCodec interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
}

// NewCodec constructs the codec named by the config framing value.
func NewCodec(framing string, rw io.ReadWriter) (FrameCodec, error) {
	switch framing {
	case "", FramingLine:
		return NewLineCodec(rw), nil
	case FramingPacket:
		return NewPacketCodec(rw), nil
	default:
		return nil, fmt.Errorf("unknown framing %q", framing)
	}
}

// Framing names accepted in configuration.
const (
	FramingLine   = "line"
	FramingPacket = "packet"
)
