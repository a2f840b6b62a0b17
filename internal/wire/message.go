// Package wire implements the binary Wire Codec: a compact, forward-
// compatible tag-length-value binary frame format for Wire Messages.
package wire

import (
	"time"

	"github.com/packetflow/reactor/internal/atom"
)

// ProtocolVersion is the current wire protocol version byte.
const ProtocolVersion byte = 1

// MessageType is the frame's type tag.
type MessageType byte

const (
	TypeSubmit      MessageType = 1
	TypeResult      MessageType = 2
	TypeError       MessageType = 3
	TypePing        MessageType = 4
	TypeRegister    MessageType = 5
	TypeBatchSubmit MessageType = 6
)

// Defaults omitted from the wire when a message carries them unchanged.
const (
	DefaultPriority = 5
	DefaultTTL      = 30
)

// Message is a decoded wire frame.
type Message struct {
	Version       byte
	Type          MessageType
	Sequence      uint64
	Timestamp     time.Time
	Source        string
	Destination   string
	Payload       atom.Value
	Priority      int // 0 means "use DefaultPriority"
	TTL           int // 0 means "use DefaultTTL"
	CorrelationID string
}

// EffectivePriority returns the message's priority or the default.
func (m Message) EffectivePriority() int {
	if m.Priority <= 0 {
		return DefaultPriority
	}
	return m.Priority
}

// EffectiveTTL returns the message's TTL or the default.
func (m Message) EffectiveTTL() int {
	if m.TTL <= 0 {
		return DefaultTTL
	}
	return m.TTL
}
