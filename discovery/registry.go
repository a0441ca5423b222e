// Package discovery maintains the table of peers visible on the LAN.
//
// Peers announce themselves with periodic discovery probes; every node that
// hears a probe records the prober and answers with a unicast acknowledgement
// after a short delay. Entries not refreshed within the timeout are evicted
// by a periodic sweep.
package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VanDung-dev/LanChat-Engine/logging"
	"github.com/VanDung-dev/LanChat-Engine/message"
	"github.com/VanDung-dev/LanChat-Engine/monitoring"
)

var log = logging.Logger(logging.SubsystemDiscovery)

// Probe and acknowledgement payloads.
const (
	ProbeContent = "discover"
	AckContent   = "online"
)

// Peer is one entry of the registry.
type Peer struct {
	ID       string
	Name     string
	Port     int
	LastSeen time.Time
}

// IsOnline reports whether the peer was seen within timeout of now.
func (p Peer) IsOnline(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastSeen) < timeout
}

// Sender is the part of the transport the registry uses.
type Sender interface {
	Send(msg *message.Message)
	SendToPeer(msg *message.Message, port int)
}

// Listener is notified of registry changes. Calls are made without any
// registry lock held.
type Listener interface {
	PeerFound(p Peer)
	PeerLost(p Peer)
	PeersUpdated(peers []Peer)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	Found   func(Peer)
	Lost    func(Peer)
	Updated func([]Peer)
}

func (l ListenerFuncs) PeerFound(p Peer) {
	if l.Found != nil {
		l.Found(p)
	}
}

func (l ListenerFuncs) PeerLost(p Peer) {
	if l.Lost != nil {
		l.Lost(p)
	}
}

func (l ListenerFuncs) PeersUpdated(peers []Peer) {
	if l.Updated != nil {
		l.Updated(peers)
	}
}

// Config holds registry timings.
type Config struct {
	InitialDelay   time.Duration // before the first probe
	ProbeInterval  time.Duration
	SweepInterval  time.Duration
	Timeout        time.Duration // a peer is online while now-LastSeen < Timeout
	UpdateDebounce time.Duration // minimum spacing of PeersUpdated
	UpdatePoll     time.Duration
	AckDelay       time.Duration // delay before answering a probe
}

// DefaultConfig returns the default registry timings.
func DefaultConfig() Config {
	return Config{
		InitialDelay:   1 * time.Second,
		ProbeInterval:  15 * time.Second,
		SweepInterval:  15 * time.Second,
		Timeout:        60 * time.Second,
		UpdateDebounce: 2 * time.Second,
		UpdatePoll:     500 * time.Millisecond,
		AckDelay:       100 * time.Millisecond,
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics records peer counts on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry is the peer table of one node.
type Registry struct {
	cfg      Config
	self     message.Identity
	sender   Sender
	listener Listener
	now      func() time.Time
	metrics  *monitoring.Metrics

	peers      map[string]*Peer
	pending    bool
	lastUpdate time.Time
	acks       map[*time.Timer]struct{}
	mu         sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	runMu   sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a registry. listener may be nil.
func New(cfg Config, self message.Identity, sender Sender, listener Listener, opts ...Option) *Registry {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	r := &Registry{
		cfg:      cfg,
		self:     self,
		sender:   sender,
		listener: listener,
		now:      time.Now,
		peers:    make(map[string]*Peer),
		acks:     make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the probe, sweep and update workers.
func (r *Registry) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		return
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true

	// Start probe emitter
	r.wg.Add(1)
	go r.probeLoop()

	// Start liveness sweep
	r.wg.Add(1)
	go r.sweepLoop()

	// Start update throttle
	r.wg.Add(1)
	go r.updateLoop()

	log.Infof("Discovery started for %s", r.self.ID)
}

// Stop halts the workers and cancels acknowledgements not yet sent.
func (r *Registry) Stop() {
	r.runMu.Lock()
	wasRunning := r.running
	if wasRunning {
		r.running = false
		r.cancel()
	}
	r.runMu.Unlock()

	if wasRunning {
		r.wg.Wait()
	}

	r.mu.Lock()
	for timer := range r.acks {
		timer.Stop()
	}
	r.acks = make(map[*time.Timer]struct{})
	r.mu.Unlock()
}

// ProbeNow broadcasts one discovery probe immediately.
func (r *Registry) ProbeNow() {
	r.sender.Send(r.self.NewMessage(message.KindDiscovery, ProbeContent))
}

// HandleIncoming processes a discovery probe or acknowledgement.
func (r *Registry) HandleIncoming(msg *message.Message) {
	switch msg.Kind {
	case message.KindDiscovery:
		r.scheduleAck(msg.SenderPort)
		r.record(msg)
	case message.KindDiscoveryResponse:
		r.record(msg)
	default:
		log.Debugf("Ignoring %s message in discovery", msg.Kind)
	}
}

func (r *Registry) scheduleAck(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(r.cfg.AckDelay, func() {
		r.mu.Lock()
		_, live := r.acks[timer]
		delete(r.acks, timer)
		r.mu.Unlock()
		if !live {
			return
		}
		r.sender.SendToPeer(r.self.NewMessage(message.KindDiscoveryResponse, AckContent), port)
	})
	r.acks[timer] = struct{}{}
}

// record adds or refreshes the sender. PeerFound fires only for a new id.
func (r *Registry) record(msg *message.Message) {
	if msg.SenderID == r.self.ID {
		return
	}

	r.mu.Lock()
	_, known := r.peers[msg.SenderID]
	p := &Peer{
		ID:       msg.SenderID,
		Name:     msg.SenderName,
		Port:     msg.SenderPort,
		LastSeen: r.now(),
	}
	r.peers[msg.SenderID] = p
	r.pending = true
	found := *p
	r.mu.Unlock()

	if !known {
		log.Infof("Peer found: %s (%s:%d)", found.Name, found.ID, found.Port)
		r.metrics.RecordPeerFound()
		r.listener.PeerFound(found)
	}
}

// sweep evicts peers that have not been seen within the timeout.
func (r *Registry) sweep() {
	now := r.now()

	r.mu.Lock()
	var lost []Peer
	for id, p := range r.peers {
		if !p.IsOnline(now, r.cfg.Timeout) {
			lost = append(lost, *p)
			delete(r.peers, id)
		}
	}
	if len(lost) > 0 {
		r.pending = true
	}
	r.mu.Unlock()

	sortPeers(lost)
	for _, p := range lost {
		log.Infof("Peer lost: %s (%s)", p.Name, p.ID)
		r.metrics.RecordPeerLost()
		r.listener.PeerLost(p)
	}
}

// flushUpdate publishes the table when an update is pending and the
// debounce window has passed.
func (r *Registry) flushUpdate() {
	now := r.now()

	r.mu.Lock()
	if !r.pending || (!r.lastUpdate.IsZero() && now.Sub(r.lastUpdate) < r.cfg.UpdateDebounce) {
		r.mu.Unlock()
		return
	}
	r.pending = false
	r.lastUpdate = now
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.metrics.UpdatePeers(len(snapshot))
	r.listener.PeersUpdated(snapshot)
}

func (r *Registry) probeLoop() {
	defer r.wg.Done()

	select {
	case <-r.ctx.Done():
		return
	case <-time.After(r.cfg.InitialDelay):
	}

	ticker := time.NewTicker(r.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		r.ProbeNow()

		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) updateLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.UpdatePoll)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flushUpdate()
		}
	}
}

// Peers returns every entry sorted by id.
func (r *Registry) Peers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// OnlinePeers returns the entries currently within the timeout.
func (r *Registry) OnlinePeers() []Peer {
	now := r.now()
	var online []Peer
	for _, p := range r.Peers() {
		if p.IsOnline(now, r.cfg.Timeout) {
			online = append(online, p)
		}
	}
	return online
}

// Peer looks up one entry.
func (r *Registry) Peer(id string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Count returns the number of entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Registry) snapshotLocked() []Peer {
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	sortPeers(out)
	return out
}

func sortPeers(peers []Peer) {
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
}
