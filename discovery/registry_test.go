package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/VanDung-dev/LanChat-Engine/message"
)

type sent struct {
	msg  *message.Message
	port int // 0 for broadcast
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSender) Send(m *message.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{msg: m})
}

func (f *fakeSender) SendToPeer(m *message.Message, port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{msg: m, port: port})
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeSender) count(kind message.Kind) int {
	n := 0
	for _, s := range f.all() {
		if s.msg.Kind == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	found   []Peer
	lost    []Peer
	updates [][]Peer
}

func (r *recorder) PeerFound(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.found = append(r.found, p)
}

func (r *recorder) PeerLost(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, p)
}

func (r *recorder) PeersUpdated(peers []Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, peers)
}

func (r *recorder) counts() (found, lost, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.found), len(r.lost), len(r.updates)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AckDelay = 10 * time.Millisecond
	return cfg
}

var (
	alice = message.NewIdentity("Alice", 5000)
	bob   = message.NewIdentity("Bob", 5001)
)

func TestProbeRecordsSenderAndAcks(t *testing.T) {
	sender := &fakeSender{}
	rec := &recorder{}
	r := New(testConfig(), alice, sender, rec)

	r.HandleIncoming(bob.NewMessage(message.KindDiscovery, ProbeContent))

	p, ok := r.Peer(bob.ID)
	if !ok {
		t.Fatal("Expected prober to be recorded")
	}
	if p.Name != "Bob" || p.Port != 5001 {
		t.Errorf("Expected Bob:5001, got %s:%d", p.Name, p.Port)
	}
	if found, _, _ := rec.counts(); found != 1 {
		t.Errorf("Expected 1 found event, got %d", found)
	}

	time.Sleep(100 * time.Millisecond)

	acks := sender.all()
	if len(acks) != 1 {
		t.Fatalf("Expected 1 ack, got %d", len(acks))
	}
	if acks[0].port != bob.Port || acks[0].msg.Kind != message.KindDiscoveryResponse {
		t.Errorf("Expected discovery_response to %d, got %s to %d",
			bob.Port, acks[0].msg.Kind, acks[0].port)
	}
	if acks[0].msg.Content != AckContent || acks[0].msg.SenderID != alice.ID {
		t.Errorf("Unexpected ack %+v", acks[0].msg)
	}
}

func TestAckRecordsWithoutReply(t *testing.T) {
	sender := &fakeSender{}
	r := New(testConfig(), alice, sender, nil)

	r.HandleIncoming(bob.NewMessage(message.KindDiscoveryResponse, AckContent))
	time.Sleep(50 * time.Millisecond)

	if r.Count() != 1 {
		t.Errorf("Expected 1 peer, got %d", r.Count())
	}
	if n := len(sender.all()); n != 0 {
		t.Errorf("An ack must not be answered, got %d sends", n)
	}
}

func TestFoundFiresOncePerPeer(t *testing.T) {
	rec := &recorder{}
	clock := newFakeClock()
	r := New(testConfig(), alice, &fakeSender{}, rec, WithClock(clock.Now))

	r.HandleIncoming(bob.NewMessage(message.KindDiscovery, ProbeContent))
	clock.Advance(15 * time.Second)
	r.HandleIncoming(bob.NewMessage(message.KindDiscoveryResponse, AckContent))

	if found, _, _ := rec.counts(); found != 1 {
		t.Errorf("Expected 1 found event, got %d", found)
	}
	p, _ := r.Peer(bob.ID)
	if !p.LastSeen.Equal(clock.Now()) {
		t.Errorf("Expected LastSeen refreshed to %v, got %v", clock.Now(), p.LastSeen)
	}
	r.Stop()
}

func TestSelfAndOtherKindsIgnored(t *testing.T) {
	r := New(testConfig(), alice, &fakeSender{}, nil)

	r.HandleIncoming(alice.NewMessage(message.KindDiscoveryResponse, AckContent))
	r.HandleIncoming(bob.NewMessage(message.KindText, "hello"))

	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
}

func TestLivenessBoundary(t *testing.T) {
	rec := &recorder{}
	clock := newFakeClock()
	r := New(testConfig(), alice, &fakeSender{}, rec, WithClock(clock.Now))

	r.HandleIncoming(bob.NewMessage(message.KindDiscoveryResponse, AckContent))

	clock.Advance(59 * time.Second)
	r.sweep()
	if r.Count() != 1 {
		t.Fatal("Peer seen 59s ago should still be online")
	}
	if len(r.OnlinePeers()) != 1 {
		t.Error("Expected peer in OnlinePeers at 59s")
	}

	clock.Advance(time.Second)
	if len(r.OnlinePeers()) != 0 {
		t.Error("Peer seen 60s ago should be offline")
	}
	r.sweep()
	if r.Count() != 0 {
		t.Errorf("Expected peer evicted at 60s, got %d peers", r.Count())
	}
	if _, lost, _ := rec.counts(); lost != 1 {
		t.Errorf("Expected 1 lost event, got %d", lost)
	}
	if rec.lost[0].ID != bob.ID {
		t.Errorf("Expected %s lost, got %s", bob.ID, rec.lost[0].ID)
	}
}

func TestUpdateDebounce(t *testing.T) {
	rec := &recorder{}
	clock := newFakeClock()
	r := New(testConfig(), alice, &fakeSender{}, rec, WithClock(clock.Now))

	r.flushUpdate()
	if _, _, updates := rec.counts(); updates != 0 {
		t.Fatalf("Expected no update without changes, got %d", updates)
	}

	r.HandleIncoming(bob.NewMessage(message.KindDiscoveryResponse, AckContent))
	r.flushUpdate()
	if _, _, updates := rec.counts(); updates != 1 {
		t.Fatalf("Expected first update immediately, got %d", updates)
	}

	carol := message.NewIdentity("Carol", 5002)
	r.HandleIncoming(carol.NewMessage(message.KindDiscoveryResponse, AckContent))

	clock.Advance(1500 * time.Millisecond)
	r.flushUpdate()
	if _, _, updates := rec.counts(); updates != 1 {
		t.Errorf("Expected update held back inside the debounce window, got %d", updates)
	}

	clock.Advance(500 * time.Millisecond)
	r.flushUpdate()
	if _, _, updates := rec.counts(); updates != 2 {
		t.Fatalf("Expected second update after 2s, got %d", updates)
	}
	if got := rec.updates[1]; len(got) != 2 || got[0].ID != bob.ID || got[1].ID != carol.ID {
		t.Errorf("Expected full sorted table, got %+v", got)
	}

	clock.Advance(10 * time.Second)
	r.flushUpdate()
	if _, _, updates := rec.counts(); updates != 2 {
		t.Errorf("Expected no update once the flag is cleared, got %d", updates)
	}
}

func TestProbeNow(t *testing.T) {
	sender := &fakeSender{}
	r := New(testConfig(), alice, sender, nil)

	r.ProbeNow()

	all := sender.all()
	if len(all) != 1 {
		t.Fatalf("Expected 1 probe, got %d", len(all))
	}
	if all[0].port != 0 || all[0].msg.Kind != message.KindDiscovery || all[0].msg.Content != ProbeContent {
		t.Errorf("Expected broadcast probe, got %+v to %d", all[0].msg, all[0].port)
	}
}

func TestWorkersProbePeriodically(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.ProbeInterval = 30 * time.Millisecond
	cfg.SweepInterval = 30 * time.Millisecond
	cfg.UpdatePoll = 10 * time.Millisecond
	r := New(cfg, alice, sender, nil)

	r.Start()
	r.Start()
	time.Sleep(150 * time.Millisecond)
	r.Stop()
	r.Stop()

	probes := sender.count(message.KindDiscovery)
	if probes < 2 {
		t.Errorf("Expected at least 2 probes, got %d", probes)
	}

	time.Sleep(80 * time.Millisecond)
	if after := sender.count(message.KindDiscovery); after != probes {
		t.Errorf("Expected no probes after Stop, got %d more", after-probes)
	}
}

func TestStopCancelsPendingAcks(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.AckDelay = 100 * time.Millisecond
	r := New(cfg, alice, sender, nil)

	r.HandleIncoming(bob.NewMessage(message.KindDiscovery, ProbeContent))
	r.Stop()
	time.Sleep(200 * time.Millisecond)

	if n := len(sender.all()); n != 0 {
		t.Errorf("Expected pending ack cancelled, got %d sends", n)
	}
}

// loopNet delivers messages between registries synchronously by port.
type loopNet struct {
	nodes map[int]*Registry
	from  int
}

func (l *loopNet) Send(m *message.Message) {
	for port, r := range l.nodes {
		if port != l.from {
			r.HandleIncoming(m.Clone())
		}
	}
}

func (l *loopNet) SendToPeer(m *message.Message, port int) {
	if r, ok := l.nodes[port]; ok {
		r.HandleIncoming(m.Clone())
	}
}

func TestProbeAckHandshake(t *testing.T) {
	nodes := map[int]*Registry{}
	recA, recB := &recorder{}, &recorder{}

	ra := New(testConfig(), alice, &loopNet{nodes: nodes, from: alice.Port}, recA)
	rb := New(testConfig(), bob, &loopNet{nodes: nodes, from: bob.Port}, recB)
	nodes[alice.Port] = ra
	nodes[bob.Port] = rb

	ra.ProbeNow()
	time.Sleep(100 * time.Millisecond)

	if _, ok := ra.Peer(bob.ID); !ok {
		t.Error("Alice should know Bob from his ack")
	}
	if _, ok := rb.Peer(alice.ID); !ok {
		t.Error("Bob should know Alice from her probe")
	}
	if found, _, _ := recA.counts(); found != 1 {
		t.Errorf("Expected Alice to see 1 found event, got %d", found)
	}
	if found, _, _ := recB.counts(); found != 1 {
		t.Errorf("Expected Bob to see 1 found event, got %d", found)
	}
}
