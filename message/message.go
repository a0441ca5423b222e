package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the message type tag carried on the wire.
type Kind string

const (
	KindText              Kind = "text"
	KindDiscovery         Kind = "discovery"
	KindDiscoveryResponse Kind = "discovery_response"
	KindGroupCreate       Kind = "group_create"
	KindGroupInvite       Kind = "group_invite" // reserved
	KindGroupMessage      Kind = "group_message"
	KindPrivateMessage    Kind = "private_message"
	KindHeartbeat         Kind = "heartbeat" // reserved
	KindEmoji             Kind = "emoji"
)

var knownKinds = map[Kind]struct{}{
	KindText:              {},
	KindDiscovery:         {},
	KindDiscoveryResponse: {},
	KindGroupCreate:       {},
	KindGroupInvite:       {},
	KindGroupMessage:      {},
	KindPrivateMessage:    {},
	KindHeartbeat:         {},
	KindEmoji:             {},
}

// ParseKind validates a wire tag.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := knownKinds[k]; !ok {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// IsText reports whether the kind is plain broadcast text. Emoji is a text
// variant and is handled identically.
func (k Kind) IsText() bool {
	return k == KindText || k == KindEmoji
}

// IsDiscovery reports whether the kind belongs to the probe/ack handshake.
func (k Kind) IsDiscovery() bool {
	return k == KindDiscovery || k == KindDiscoveryResponse
}

func (k Kind) String() string { return string(k) }

// IDLength is the length of generated message and group ids.
const IDLength = 8

// Message is the envelope carried by every datagram.
type Message struct {
	Kind         Kind     `json:"kind"`
	SenderID     string   `json:"sender_id"`
	SenderName   string   `json:"sender_name"`
	SenderPort   int      `json:"sender_port"`
	Content      string   `json:"content"`
	Timestamp    float64  `json:"timestamp"` // seconds since the Unix epoch
	ID           string   `json:"msg_id"`
	TargetID     string   `json:"target_id,omitempty"`
	GroupID      string   `json:"group_id,omitempty"`
	GroupMembers []string `json:"group_members,omitempty"`
}

// NewID returns a short random token used for message and group ids.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// Ensure assigns the timestamp and id when they are absent. Messages that
// already carry an identity are left untouched, so a retransmission keeps
// the id of its logical send.
func Ensure(m *Message) {
	if m.Timestamp == 0 {
		m.Timestamp = unixSeconds(time.Now())
	}
	if m.ID == "" {
		m.ID = NewID()
	}
}

// Time returns the creation timestamp as a time.Time.
func (m *Message) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// ConversationID names the conversation a message belongs to: the group,
// the private peer, or the shared broadcast channel.
func (m *Message) ConversationID() string {
	switch m.Kind {
	case KindGroupMessage:
		return "group_" + m.GroupID
	case KindPrivateMessage:
		return "private_" + m.SenderID
	default:
		return "broadcast"
	}
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	cp := *m
	if m.GroupMembers != nil {
		cp.GroupMembers = append([]string(nil), m.GroupMembers...)
	}
	return &cp
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Identity is the local node's addressing information.
type Identity struct {
	ID   string
	Name string
	Port int
}

// NewIdentity derives the stable node id from display name and port.
func NewIdentity(name string, port int) Identity {
	return Identity{
		ID:   fmt.Sprintf("%s_%d", name, port),
		Name: name,
		Port: port,
	}
}

// NewMessage builds a message sent by this identity with a fresh id and
// timestamp.
func (id Identity) NewMessage(kind Kind, content string) *Message {
	m := &Message{
		Kind:       kind,
		SenderID:   id.ID,
		SenderName: id.Name,
		SenderPort: id.Port,
		Content:    content,
	}
	Ensure(m)
	return m
}
