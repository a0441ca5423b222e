package arrow

import (
	"reflect"
	"testing"
)

func TestPeersRoundTrip(t *testing.T) {
	w := NewIPCWriter()
	rows := []PeerRow{
		{ID: "Bob_5001", Name: "Bob", Port: 5001, LastSeen: 1700000000.5, Online: true},
		{ID: "Carol_5002", Name: "Carol", Port: 5002, LastSeen: 1699999900, Online: false},
	}

	data, err := w.EncodePeers(rows)
	if err != nil {
		t.Fatalf("EncodePeers failed: %v", err)
	}
	got, err := w.DecodePeers(data)
	if err != nil {
		t.Fatalf("DecodePeers failed: %v", err)
	}

	if !reflect.DeepEqual(got, rows) {
		t.Errorf("Expected %+v, got %+v", rows, got)
	}
}

func TestEmptyPeers(t *testing.T) {
	w := NewIPCWriter()

	data, err := w.EncodePeers(nil)
	if err != nil {
		t.Fatalf("EncodePeers failed: %v", err)
	}
	got, err := w.DecodePeers(data)
	if err != nil {
		t.Fatalf("DecodePeers failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no rows, got %d", len(got))
	}
}

func TestGroupsRoundTrip(t *testing.T) {
	w := NewIPCWriter()
	rows := []GroupRow{
		{
			ID:          "a1b2c3d4",
			Name:        "team",
			CreatorID:   "alice_5000",
			Members:     []string{"alice_5000", "bob_5001"},
			MemberPorts: map[string]int{"alice_5000": 5000, "bob_5001": 5001},
			MemberNames: map[string]string{"alice_5000": "alice", "bob_5001": "bob"},
		},
		{
			ID:          "e5f6a7b8",
			Name:        "quiet",
			CreatorID:   "bob_5001",
			Members:     []string{"bob_5001"},
			MemberPorts: map[string]int{"bob_5001": 5001},
			MemberNames: map[string]string{},
		},
	}

	data, err := w.EncodeGroups(rows)
	if err != nil {
		t.Fatalf("EncodeGroups failed: %v", err)
	}
	got, err := w.DecodeGroups(data)
	if err != nil {
		t.Fatalf("DecodeGroups failed: %v", err)
	}

	if !reflect.DeepEqual(got, rows) {
		t.Errorf("Expected %+v, got %+v", rows, got)
	}
}

func TestDecodeWrongTable(t *testing.T) {
	w := NewIPCWriter()

	data, err := w.EncodePeers([]PeerRow{{ID: "x", Port: 5000}})
	if err != nil {
		t.Fatalf("EncodePeers failed: %v", err)
	}
	if _, err := w.DecodeGroups(data); err == nil {
		t.Error("Expected error decoding a peer table as groups")
	}
}

func TestDeserializeGarbage(t *testing.T) {
	w := NewIPCWriter()
	if _, err := w.DeserializeFromIPC([]byte("not arrow")); err == nil {
		t.Error("Expected error for invalid IPC data")
	}
}

func TestSchemas(t *testing.T) {
	if n := PeerSchema().NumFields(); n != 5 {
		t.Errorf("Expected 5 peer fields, got %d", n)
	}
	if n := GroupSchema().NumFields(); n != 6 {
		t.Errorf("Expected 6 group fields, got %d", n)
	}
	if f := GroupSchema().Field(5); !f.Nullable || f.Name != "member_names" {
		t.Errorf("Expected nullable member_names, got %+v", f)
	}
}
