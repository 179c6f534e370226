package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Packet envelope: seq(2) | type(1) | payload_len(2) | payload | checksum(1),
// all big-endian. Checksum is the additive sum of every byte before it,
// mod 256. A single-byte flip anywhere in the non-checksum region is
// detected; two compensating flips may escape (known limitation of the
// additive scheme).
const packetHeaderSize = 5

// EncodePacket builds one packet for the given sequence number.
func EncodePacket(seq uint16, kind Kind, payload []byte) ([]byte, error) {
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("payload of %d bytes exceeds packet limit", len(payload))
	}
	pkt := make([]byte, packetHeaderSize+len(payload)+1)
	binary.BigEndian.PutUint16(pkt[0:2], seq)
	pkt[2] = byte(kind)
	binary.BigEndian.PutUint16(pkt[3:5], uint16(len(payload)))
	copy(pkt[packetHeaderSize:], payload)
	pkt[len(pkt)-1] = checksum(pkt[:len(pkt)-1])
	return pkt, nil
}

// DecodePacket validates and unpacks one complete packet.
func DecodePacket(pkt []byte) (seq uint16, kind Kind, payload []byte, err error) {
	if len(pkt) < packetHeaderSize+1 {
		return 0, 0, nil, fmt.Errorf("packet too short: %d bytes", len(pkt))
	}
	if pkt[len(pkt)-1] != checksum(pkt[:len(pkt)-1]) {
		return 0, 0, nil, ErrChecksum
	}
	seq = binary.BigEndian.Uint16(pkt[0:2])
	kind = Kind(pkt[2])
	payloadLen := int(binary.BigEndian.Uint16(pkt[3:5]))
	if len(pkt) != packetHeaderSize+payloadLen+1 {
		return 0, 0, nil, fmt.Errorf("packet length %d does not match declared payload %d", len(pkt), payloadLen)
	}
	return seq, kind, pkt[packetHeaderSize : packetHeaderSize+payloadLen], nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// PacketCodec is the optional reliability-layer framing. Each direction
// carries its own sequence counter.
type PacketCodec struct {
	r      io.Reader
	w      io.Writer
	nextTx uint16
}

// NewPacketCodec wraps rw in the packet framing.
func NewPacketCodec(rw io.ReadWriter) *PacketCodec {
	return &PacketCodec{r: rw, w: rw}
}

// ReadFrame reads exactly one packet. On checksum mismatch it returns
// ErrChecksum with the bad packet fully consumed, so the caller can
// report a decode error and keep reading.
func (c *PacketCodec) ReadFrame() (Frame, error) {
	var header [packetHeaderSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return Frame{}, err
	}

	payloadLen := int(binary.BigEndian.Uint16(header[3:5]))
	rest := make([]byte, payloadLen+1)
	if _, err := io.ReadFull(c.r, rest); err != nil {
		return Frame{}, fmt.Errorf("reading packet body: %w", err)
	}

	pkt := append(header[:], rest...)
	_, kind, payload, err := DecodePacket(pkt)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, Payload: string(payload)}, nil
}

// WriteFrame encodes and writes one packet with the next sequence number.
func (c *PacketCodec) WriteFrame(f Frame) error {
	pkt, err := EncodePacket(c.nextTx, f.Kind, []byte(f.Payload))
	if err != nil {
		return err
	}
	c.nextTx++
	if _, err := c.w.Write(pkt); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}
