package message

import (
	"errors"
	"testing"
)

// FuzzDecode checks that arbitrary datagrams never panic the decoder and
// that every failure is reported as ErrMalformedMessage.
// Run with: go test -fuzz=FuzzDecode -fuzztime=30s ./message/
func FuzzDecode(f *testing.F) {
	valid, _ := Encode(NewIdentity("alice", 5000).NewMessage(KindDiscovery, "discover"))
	f.Add(valid)
	f.Add([]byte(`{"kind":"text","sender_id":"a_1","sender_name":"a","sender_port":1,"content":"","timestamp":1,"msg_id":"m"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))
	f.Add([]byte(`"string"`))
	f.Add([]byte(`{"kind":"","sender_id":"","sender_port":0}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := Decode(data)
		if err != nil {
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		// A decoded message must survive re-encoding with its identity.
		out, err := Encode(m)
		if err != nil {
			// Zero timestamps and payloads that grow past the datagram
			// limit once escaped are legitimately rejected.
			return
		}
		again, err := Decode(out)
		if err != nil {
			t.Fatalf("decode of re-encoded message failed: %v", err)
		}
		if again.ID != m.ID {
			t.Fatalf("id changed: %s -> %s", m.ID, again.ID)
		}
	})
}
