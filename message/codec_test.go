package message

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewIdentity(t *testing.T) {
	id := NewIdentity("alice", 5000)

	if id.ID != "alice_5000" {
		t.Errorf("Expected ID 'alice_5000', got %s", id.ID)
	}
	if id.Name != "alice" || id.Port != 5000 {
		t.Errorf("Unexpected identity %+v", id)
	}
}

func TestNewMessageAssignsIdentity(t *testing.T) {
	id := NewIdentity("alice", 5000)
	m := id.NewMessage(KindText, "hello")

	if len(m.ID) != IDLength {
		t.Errorf("Expected id of length %d, got %q", IDLength, m.ID)
	}
	if m.Timestamp == 0 {
		t.Error("Timestamp should be assigned")
	}
	if m.SenderID != "alice_5000" || m.SenderPort != 5000 || m.SenderName != "alice" {
		t.Errorf("Sender fields not copied from identity: %+v", m)
	}

	other := id.NewMessage(KindText, "hello")
	if other.ID == m.ID {
		t.Error("Two logical sends must not share an id")
	}
}

func TestEnsureKeepsExistingIdentity(t *testing.T) {
	m := &Message{Kind: KindText, SenderID: "a_1", ID: "abc12345", Timestamp: 42.5}
	Ensure(m)

	if m.ID != "abc12345" {
		t.Errorf("Expected id to be preserved, got %s", m.ID)
	}
	if m.Timestamp != 42.5 {
		t.Errorf("Expected timestamp to be preserved, got %f", m.Timestamp)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id := NewIdentity("bob", 5001)
	m := id.NewMessage(KindGroupCreate, `{"group_id":"g1"}`)
	m.GroupID = "g1"
	m.GroupMembers = []string{"alice_5000", "bob_5001"}

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.ID != m.ID || got.Timestamp != m.Timestamp {
		t.Errorf("Identity changed across round trip: %s/%f vs %s/%f", got.ID, got.Timestamp, m.ID, m.Timestamp)
	}
	if got.Kind != KindGroupCreate || got.GroupID != "g1" || got.Content != m.Content {
		t.Errorf("Payload changed across round trip: %+v", got)
	}
	if len(got.GroupMembers) != 2 {
		t.Errorf("Expected 2 group members, got %v", got.GroupMembers)
	}

	again, err := Encode(got)
	if err != nil {
		t.Fatalf("Re-encode failed: %v", err)
	}
	if string(again) != string(data) {
		t.Errorf("Re-encoding an identified message should be stable:\n%s\n%s", data, again)
	}
}

func TestEncodeOmitsEmptyOptionalFields(t *testing.T) {
	m := NewIdentity("alice", 5000).NewMessage(KindText, "hi")

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for _, field := range []string{"target_id", "group_id", "group_members"} {
		if strings.Contains(string(data), field) {
			t.Errorf("Expected %s to be omitted, got %s", field, data)
		}
	}
	if !strings.Contains(string(data), `"kind":"text"`) {
		t.Errorf("Expected kind tag in payload, got %s", data)
	}
}

func TestEncodeRequiresIdentity(t *testing.T) {
	if _, err := Encode(&Message{Kind: KindText, SenderID: "a_1"}); err == nil {
		t.Error("Encode should reject a message without id/timestamp")
	}
	if _, err := Encode(nil); err == nil {
		t.Error("Encode should reject nil")
	}
}

func TestDecodeAcceptsNullOptionalFields(t *testing.T) {
	raw := `{"kind":"private_message","sender_id":"alice_5000","sender_name":"alice","sender_port":5000,` +
		`"content":"psst","timestamp":1700000000.25,"msg_id":"1a2b3c4d","target_id":"bob_5001","group_id":null,"group_members":null}`

	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.TargetID != "bob_5001" {
		t.Errorf("Expected target bob_5001, got %s", m.TargetID)
	}
	if m.GroupID != "" || m.GroupMembers != nil {
		t.Errorf("Expected empty group fields, got %q %v", m.GroupID, m.GroupMembers)
	}
	if m.ConversationID() != "private_alice_5000" {
		t.Errorf("Unexpected conversation id %s", m.ConversationID())
	}
	if want := time.Unix(1700000000, 250000000); !m.Time().Equal(want) {
		t.Errorf("Expected time %v, got %v", want, m.Time())
	}
}

func TestDecodeEmojiIsText(t *testing.T) {
	raw := `{"kind":"emoji","sender_id":"a_1","sender_name":"a","sender_port":1,"content":"x","timestamp":1,"msg_id":"m1"}`

	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !m.Kind.IsText() {
		t.Error("Emoji should be treated as text")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":           ``,
		"not json":        `hello`,
		"array":           `[]`,
		"null":            `null`,
		"missing kind":    `{"sender_id":"a_1","sender_name":"a","sender_port":1,"content":"","timestamp":1,"msg_id":"m"}`,
		"missing sender":  `{"kind":"text","sender_name":"a","sender_port":1,"content":"","timestamp":1,"msg_id":"m"}`,
		"missing name":    `{"kind":"text","sender_id":"a_1","sender_port":1,"content":"","timestamp":1,"msg_id":"m"}`,
		"missing port":    `{"kind":"text","sender_id":"a_1","sender_name":"a","content":"","timestamp":1,"msg_id":"m"}`,
		"missing content": `{"kind":"text","sender_id":"a_1","sender_name":"a","sender_port":1,"timestamp":1,"msg_id":"m"}`,
		"missing id":      `{"kind":"text","sender_id":"a_1","sender_name":"a","sender_port":1,"content":"","timestamp":1}`,
		"missing time":    `{"kind":"text","sender_id":"a_1","sender_name":"a","sender_port":1,"content":"","msg_id":"m"}`,
		"unknown kind":    `{"kind":"telepathy","sender_id":"a_1","sender_name":"a","sender_port":1,"content":"","timestamp":1,"msg_id":"m"}`,
		"wrong type":      `{"kind":"text","sender_id":"a_1","sender_name":"a","sender_port":"5000","content":"","timestamp":1,"msg_id":"m"}`,
	}

	for name, raw := range cases {
		_, err := Decode([]byte(raw))
		if err == nil {
			t.Errorf("%s: expected error, got nil", name)
			continue
		}
		if !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("%s: expected ErrMalformedMessage, got %v", name, err)
		}
	}
}

func TestDecodeAcceptsEmptyNameAndContent(t *testing.T) {
	raw := `{"kind":"discovery","sender_id":"a_1","sender_name":"","sender_port":1,"content":"","timestamp":1,"msg_id":"m"}`

	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Expected present but empty fields to decode, got %v", err)
	}
	if m.SenderName != "" || m.Content != "" {
		t.Errorf("Expected empty name and content, got %q %q", m.SenderName, m.Content)
	}
}

func TestDecodeOversized(t *testing.T) {
	data := make([]byte, MaxDatagramSize+1)
	if _, err := Decode(data); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("Expected ErrMalformedMessage for oversized payload, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	if _, err := ParseKind("discovery_response"); err != nil {
		t.Errorf("discovery_response should parse: %v", err)
	}
	if _, err := ParseKind("DISCOVERY"); err == nil {
		t.Error("Kind tags are case sensitive")
	}
	if !KindDiscovery.IsDiscovery() || KindText.IsDiscovery() {
		t.Error("IsDiscovery mismatch")
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := &Message{GroupMembers: []string{"a"}}
	cp := m.Clone()
	cp.GroupMembers[0] = "b"

	if m.GroupMembers[0] != "a" {
		t.Error("Clone shares the members slice")
	}
}
