package wire

import (
	"time"

	"github.com/packetflow/reactor/internal/perrors"
)

// Field tags for the top-level frame. Unknown tags encountered while
// decoding are skipped (using their length prefix) rather than rejected,
// so newer optional fields stay forward-compatible with older readers.
const (
	tagSequence      byte = 1
	tagTimestamp     byte = 2
	tagSource        byte = 3
	tagDestination   byte = 4
	tagPayload       byte = 5
	tagPriority      byte = 6
	tagTTL           byte = 7
	tagCorrelationID byte = 8
)

// Encode renders msg as a binary frame:
//
//	[version byte][type byte][field entries...]
//
// Each field entry is [tag byte][uvarint length][raw bytes]. Priority and
// TTL fields are omitted entirely when at their default value. Encode
// never fails: any inputs that would produce an invalid frame have
// already been rejected by validation upstream of the codec.
func Encode(msg Message) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, msg.Version, byte(msg.Type))

	buf = appendField(buf, tagSequence, appendUvarint(nil, msg.Sequence))
	buf = appendField(buf, tagTimestamp, appendVarint(nil, msg.Timestamp.UnixNano()))
	buf = appendField(buf, tagSource, []byte(msg.Source))
	buf = appendField(buf, tagDestination, []byte(msg.Destination))
	buf = appendField(buf, tagPayload, appendValue(nil, msg.Payload))
	if msg.Priority > 0 && msg.Priority != DefaultPriority {
		buf = appendField(buf, tagPriority, appendVarint(nil, int64(msg.Priority)))
	}
	if msg.TTL > 0 && msg.TTL != DefaultTTL {
		buf = appendField(buf, tagTTL, appendVarint(nil, int64(msg.TTL)))
	}
	if msg.CorrelationID != "" {
		buf = appendField(buf, tagCorrelationID, []byte(msg.CorrelationID))
	}
	return buf
}

func appendField(buf []byte, tag byte, value []byte) []byte {
	buf = append(buf, tag)
	buf = appendUvarint(buf, uint64(len(value)))
	return append(buf, value...)
}

// Decode parses a binary frame produced by Encode. Every failure mode
// (truncated input, unknown protocol version, unknown message type, or a
// malformed field) is reported as CODEC_INVALID; the codec never retries.
func Decode(data []byte) (Message, error) {
	if len(data) < 2 {
		return Message{}, perrors.CodecInvalid("frame too short: %d bytes", len(data))
	}
	version := data[0]
	if version != ProtocolVersion {
		return Message{}, perrors.CodecInvalid("unsupported protocol version %d", version)
	}
	msgType := MessageType(data[1])
	switch msgType {
	case TypeSubmit, TypeResult, TypeError, TypePing, TypeRegister, TypeBatchSubmit:
	default:
		return Message{}, perrors.CodecInvalid("unknown message type %d", data[1])
	}

	msg := Message{Version: version, Type: msgType}
	buf := data[2:]

	for len(buf) > 0 {
		tag := buf[0]
		rest := buf[1:]
		ln, n, err := readUvarint(rest)
		if err != nil {
			return Message{}, perrors.CodecInvalid("malformed field length: %v", err)
		}
		rest = rest[n:]
		if uint64(len(rest)) < ln {
			return Message{}, perrors.CodecInvalid("truncated field %d", tag)
		}
		field := rest[:ln]
		buf = rest[ln:]

		switch tag {
		case tagSequence:
			v, _, err := readUvarint(field)
			if err != nil {
				return Message{}, perrors.CodecInvalid("malformed sequence: %v", err)
			}
			msg.Sequence = v
		case tagTimestamp:
			v, _, err := readVarint(field)
			if err != nil {
				return Message{}, perrors.CodecInvalid("malformed timestamp: %v", err)
			}
			msg.Timestamp = time.Unix(0, v).UTC()
		case tagSource:
			msg.Source = string(field)
		case tagDestination:
			msg.Destination = string(field)
		case tagPayload:
			v, _, err := readValue(field)
			if err != nil {
				return Message{}, perrors.CodecInvalid("malformed payload: %v", err)
			}
			msg.Payload = v
		case tagPriority:
			v, _, err := readVarint(field)
			if err != nil {
				return Message{}, perrors.CodecInvalid("malformed priority: %v", err)
			}
			msg.Priority = int(v)
		case tagTTL:
			v, _, err := readVarint(field)
			if err != nil {
				return Message{}, perrors.CodecInvalid("malformed ttl: %v", err)
			}
			msg.TTL = int(v)
		case tagCorrelationID:
			msg.CorrelationID = string(field)
		default:
			// Unknown tag from a newer protocol version: skip, already
			// consumed via its length prefix above.
		}
	}

	return msg, nil
}
