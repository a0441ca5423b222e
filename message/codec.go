package message

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// MaxDatagramSize is the largest payload read from or written to a socket.
const MaxDatagramSize = 65535

// ErrMalformedMessage is returned by Decode for any payload that is not a
// valid envelope.
var ErrMalformedMessage = errors.New("malformed message")

type wireMessage struct {
	Kind         *string  `json:"kind"`
	SenderID     *string  `json:"sender_id"`
	SenderName   *string  `json:"sender_name"`
	SenderPort   *int     `json:"sender_port"`
	Content      *string  `json:"content"`
	Timestamp    *float64 `json:"timestamp"`
	MsgID        *string  `json:"msg_id"`
	TargetID     *string  `json:"target_id,omitempty"`
	GroupID      *string  `json:"group_id,omitempty"`
	GroupMembers []string `json:"group_members,omitempty"`
}

// Encode serializes a message. The message must already carry an id and a
// timestamp; Encode never assigns them.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	if m.ID == "" || m.Timestamp == 0 {
		return nil, fmt.Errorf("message without identity (kind %s)", m.Kind)
	}

	kind := string(m.Kind)
	w := wireMessage{
		Kind:         &kind,
		SenderID:     &m.SenderID,
		SenderName:   &m.SenderName,
		SenderPort:   &m.SenderPort,
		Content:      &m.Content,
		Timestamp:    &m.Timestamp,
		MsgID:        &m.ID,
		GroupMembers: m.GroupMembers,
	}
	if m.TargetID != "" {
		w.TargetID = &m.TargetID
	}
	if m.GroupID != "" {
		w.GroupID = &m.GroupID
	}

	data, err := json.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("encoded message is %d bytes (max %d)", len(data), MaxDatagramSize)
	}
	return data, nil
}

// Decode parses one datagram. Every failure wraps ErrMalformedMessage.
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMalformedMessage, len(data), MaxDatagramSize)
	}

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case w.Kind == nil:
		return nil, fmt.Errorf("%w: missing kind", ErrMalformedMessage)
	case w.SenderID == nil || *w.SenderID == "":
		return nil, fmt.Errorf("%w: missing sender_id", ErrMalformedMessage)
	case w.SenderName == nil:
		return nil, fmt.Errorf("%w: missing sender_name", ErrMalformedMessage)
	case w.SenderPort == nil:
		return nil, fmt.Errorf("%w: missing sender_port", ErrMalformedMessage)
	case w.Content == nil:
		return nil, fmt.Errorf("%w: missing content", ErrMalformedMessage)
	case w.MsgID == nil || *w.MsgID == "":
		return nil, fmt.Errorf("%w: missing msg_id", ErrMalformedMessage)
	case w.Timestamp == nil:
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedMessage)
	}

	kind, err := ParseKind(*w.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	m := &Message{
		Kind:         kind,
		SenderID:     *w.SenderID,
		SenderName:   *w.SenderName,
		SenderPort:   *w.SenderPort,
		Content:      *w.Content,
		Timestamp:    *w.Timestamp,
		ID:           *w.MsgID,
		GroupMembers: w.GroupMembers,
	}
	if w.TargetID != nil {
		m.TargetID = *w.TargetID
	}
	if w.GroupID != nil {
		m.GroupID = *w.GroupID
	}
	return m, nil
}
