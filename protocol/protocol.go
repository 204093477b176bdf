// Package protocol implements the wire format datagrams exchanged between
// session peers (spec.md §6): a 1-byte tag followed by fixed little-endian
// fields.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tag identifies the message type that follows the 1-byte header.
type Tag byte

const (
	TagSyncRequest   Tag = 0x01
	TagSyncReply     Tag = 0x02
	TagInputBatch    Tag = 0x03
	TagInputAck      Tag = 0x04
	TagQualityReport Tag = 0x05
	TagQualityReply  Tag = 0x06
)

// ErrMalformed is returned for any datagram that cannot be decoded. Per
// spec.md §7 this is never fatal — callers are expected to discard and
// move on.
var ErrMalformed = errors.New("protocol: malformed message")

// SyncRequest is sent periodically by a device that hasn't yet completed
// the handshake.
type SyncRequest struct {
	Nonce uint32
}

// SyncReply echoes the nonce from a received SyncRequest.
type SyncReply struct {
	Nonce uint32
}

// InputBatch carries a contiguous run of one device's input bytes, covering
// frames [StartFrame, EndFrame] inclusive.
type InputBatch struct {
	StartFrame uint32
	EndFrame   uint32
	Payload    []byte
}

// InputAck acknowledges receipt of input up to and including Frame.
type InputAck struct {
	Frame uint32
}

// QualityReport is an optional liveness ping.
type QualityReport struct {
	Frame     uint32
	Advantage int32
}

// QualityReply is the pong to a QualityReport.
type QualityReply struct {
	Frame uint32
}

// EncodeSyncRequest serializes a SyncRequest datagram.
func EncodeSyncRequest(m SyncRequest) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagSyncRequest)
	binary.LittleEndian.PutUint32(buf[1:], m.Nonce)
	return buf
}

// EncodeSyncReply serializes a SyncReply datagram.
func EncodeSyncReply(m SyncReply) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagSyncReply)
	binary.LittleEndian.PutUint32(buf[1:], m.Nonce)
	return buf
}

// EncodeInputBatch serializes an InputBatch datagram.
func EncodeInputBatch(m InputBatch) []byte {
	buf := make([]byte, 11+len(m.Payload))
	buf[0] = byte(TagInputBatch)
	binary.LittleEndian.PutUint32(buf[1:5], m.StartFrame)
	binary.LittleEndian.PutUint32(buf[5:9], m.EndFrame)
	binary.LittleEndian.PutUint16(buf[9:11], uint16(len(m.Payload)))
	copy(buf[11:], m.Payload)
	return buf
}

// EncodeInputAck serializes an InputAck datagram.
func EncodeInputAck(m InputAck) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagInputAck)
	binary.LittleEndian.PutUint32(buf[1:], m.Frame)
	return buf
}

// EncodeQualityReport serializes a QualityReport datagram.
func EncodeQualityReport(m QualityReport) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(TagQualityReport)
	binary.LittleEndian.PutUint32(buf[1:5], m.Frame)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(m.Advantage))
	return buf
}

// EncodeQualityReply serializes a QualityReply datagram.
func EncodeQualityReply(m QualityReply) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagQualityReply)
	binary.LittleEndian.PutUint32(buf[1:], m.Frame)
	return buf
}

// Message is a decoded datagram, tagged by which field is populated.
type Message struct {
	Tag Tag

	SyncRequest   SyncRequest
	SyncReply     SyncReply
	InputBatch    InputBatch
	InputAck      InputAck
	QualityReport QualityReport
	QualityReply  QualityReply
}

// Decode parses a datagram. Returns ErrMalformed (never any other error)
// for anything that doesn't fit the wire format in spec.md §6 — short
// reads, an unknown tag, or a declared length that overruns the buffer.
func Decode(buf []byte) (Message, error) {
	if len(buf) < 1 {
		return Message{}, fmt.Errorf("protocol: empty datagram: %w", ErrMalformed)
	}

	switch Tag(buf[0]) {
	case TagSyncRequest:
		if len(buf) != 5 {
			return Message{}, fmt.Errorf("protocol: sync_request len=%d: %w", len(buf), ErrMalformed)
		}
		return Message{Tag: TagSyncRequest, SyncRequest: SyncRequest{
			Nonce: binary.LittleEndian.Uint32(buf[1:5]),
		}}, nil

	case TagSyncReply:
		if len(buf) != 5 {
			return Message{}, fmt.Errorf("protocol: sync_reply len=%d: %w", len(buf), ErrMalformed)
		}
		return Message{Tag: TagSyncReply, SyncReply: SyncReply{
			Nonce: binary.LittleEndian.Uint32(buf[1:5]),
		}}, nil

	case TagInputBatch:
		if len(buf) < 11 {
			return Message{}, fmt.Errorf("protocol: input_batch len=%d: %w", len(buf), ErrMalformed)
		}
		start := binary.LittleEndian.Uint32(buf[1:5])
		end := binary.LittleEndian.Uint32(buf[5:9])
		length := binary.LittleEndian.Uint16(buf[9:11])
		if len(buf) != 11+int(length) {
			return Message{}, fmt.Errorf("protocol: input_batch declared=%d actual=%d: %w", length, len(buf)-11, ErrMalformed)
		}
		payload := append([]byte(nil), buf[11:]...)
		return Message{Tag: TagInputBatch, InputBatch: InputBatch{
			StartFrame: start,
			EndFrame:   end,
			Payload:    payload,
		}}, nil

	case TagInputAck:
		if len(buf) != 5 {
			return Message{}, fmt.Errorf("protocol: input_ack len=%d: %w", len(buf), ErrMalformed)
		}
		return Message{Tag: TagInputAck, InputAck: InputAck{
			Frame: binary.LittleEndian.Uint32(buf[1:5]),
		}}, nil

	case TagQualityReport:
		if len(buf) != 9 {
			return Message{}, fmt.Errorf("protocol: quality_report len=%d: %w", len(buf), ErrMalformed)
		}
		return Message{Tag: TagQualityReport, QualityReport: QualityReport{
			Frame:     binary.LittleEndian.Uint32(buf[1:5]),
			Advantage: int32(binary.LittleEndian.Uint32(buf[5:9])),
		}}, nil

	case TagQualityReply:
		if len(buf) != 5 {
			return Message{}, fmt.Errorf("protocol: quality_reply len=%d: %w", len(buf), ErrMalformed)
		}
		return Message{Tag: TagQualityReply, QualityReply: QualityReply{
			Frame: binary.LittleEndian.Uint32(buf[1:5]),
		}}, nil

	default:
		return Message{}, fmt.Errorf("protocol: unknown tag %#x: %w", buf[0], ErrMalformed)
	}
}
