package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VanDung-dev/LanChat-Engine/api"
	"github.com/VanDung-dev/LanChat-Engine/arrow"
	"github.com/VanDung-dev/LanChat-Engine/config"
	"github.com/VanDung-dev/LanChat-Engine/discovery"
	"github.com/VanDung-dev/LanChat-Engine/events"
	"github.com/VanDung-dev/LanChat-Engine/group"
	"github.com/VanDung-dev/LanChat-Engine/logging"
	"github.com/VanDung-dev/LanChat-Engine/message"
	"github.com/VanDung-dev/LanChat-Engine/monitoring"
)

// Node errors
var (
	ErrNoKnownMembers = errors.New("none of the requested members are known peers")
	ErrUnknownPeer    = errors.New("unknown peer")
)

// NodeStatus represents the current status of a node.
type NodeStatus struct {
	NodeID       string         `json:"node_id"`
	Name         string         `json:"name"`
	Port         int            `json:"port"`
	IsRunning    bool           `json:"is_running"`
	PeerCount    int            `json:"peer_count"`
	OnlinePeers  int            `json:"online_peers"`
	GroupCount   int            `json:"group_count"`
	Transport    TransportStats `json:"transport"`
	MetricsAddr  string         `json:"metrics_addr,omitempty"`
	SnapshotAddr string         `json:"snapshot_addr,omitempty"`
	EventsAddr   string         `json:"events_addr,omitempty"`
}

// Node orchestrates the transport, peer registry and group directory of one
// LanChat participant and reports to an Observer.
type Node struct {
	cfg      config.Config
	self     message.Identity
	observer events.Observer
	metrics  *monitoring.Metrics
	log      *logging.Reporter

	transport *UDPTransport
	registry  *discovery.Registry
	directory *group.Directory

	// Optional outer surfaces
	metricsServer *monitoring.MetricsServer
	snapshot      *api.SnapshotServer
	publisher     *events.Publisher

	mu      sync.RWMutex
	running bool
}

// NewNode builds a node from cfg. observer may be nil.
func NewNode(cfg config.Config, observer events.Observer) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		self:    message.NewIdentity(cfg.Node.Name, cfg.Node.Port),
		metrics: monitoring.NewMetrics(cfg.Metrics.Namespace),
	}

	if cfg.Events.PublishAddr != "" {
		n.publisher = events.NewPublisher(cfg.Events.PublishAddr)
		n.observer = events.Multi(observer, n.publisher)
	} else {
		n.observer = events.Multi(observer)
	}
	n.log = logging.NewReporter(logging.SubsystemNode, n.reportError)

	n.transport = NewUDPTransport(transportConfig(cfg.Transport), n.self, n.dispatch, n.metrics)
	n.registry = discovery.New(discoveryConfig(cfg.Discovery), n.self, n.transport,
		registryListener{n}, discovery.WithMetrics(n.metrics))
	n.directory = group.NewDirectory(n.self, n.transport,
		group.WithRedundancy(group.Redundancy{Copies: cfg.Groups.Copies, Gap: cfg.Groups.Gap.Duration}),
		group.WithMetrics(n.metrics),
		group.WithErrorHook(n.reportError))

	if cfg.Metrics.Addr != "" {
		n.metricsServer = monitoring.NewMetricsServer(cfg.Metrics.Addr, n.metrics)
	}
	if cfg.Snapshot.Addr != "" {
		n.snapshot = api.NewSnapshotServer(n)
	}

	return n, nil
}

func transportConfig(c config.TransportConfig) TransportConfig {
	return TransportConfig{
		ListenHost:           c.ListenHost,
		Host:                 c.Host,
		PortRangeStart:       c.PortRangeStart,
		PortRangeEnd:         c.PortRangeEnd,
		BroadcastPorts:       c.BroadcastPorts,
		QueueSize:            c.QueueSize,
		PollInterval:         c.PollInterval.Duration,
		SendPacing:           c.SendPacing.Duration,
		DedupThreshold:       c.DedupThreshold,
		DedupCleanupInterval: c.DedupCleanupInterval.Duration,
	}
}

func discoveryConfig(c config.DiscoveryConfig) discovery.Config {
	return discovery.Config{
		InitialDelay:   c.InitialDelay.Duration,
		ProbeInterval:  c.ProbeInterval.Duration,
		SweepInterval:  c.SweepInterval.Duration,
		Timeout:        c.Timeout.Duration,
		UpdateDebounce: c.UpdateDebounce.Duration,
		UpdatePoll:     c.UpdatePoll.Duration,
		AckDelay:       c.AckDelay.Duration,
	}
}

// Start brings up the transport, then discovery, then the optional metrics
// server, snapshot server and event publisher.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return ErrAlreadyRunning
	}

	// Start the transport
	if err := n.transport.Start(); err != nil {
		n.log.Errorf("Cannot start on port %d: %v", n.self.Port, err)
		return err
	}

	// Start peer discovery
	n.registry.Start()

	if err := n.startSurfaces(); err != nil {
		n.stopSurfaces()
		n.registry.Stop()
		n.transport.Stop()
		n.log.Errorf("%v", err)
		return err
	}

	n.running = true
	n.log.Infof("Node %s started on port %d", n.self.ID, n.self.Port)
	n.emit(events.Event{Kind: events.KindStatus, Text: fmt.Sprintf("online as %s", n.self.ID)})
	return nil
}

func (n *Node) startSurfaces() error {
	if n.metricsServer != nil {
		if err := n.metricsServer.StartAsync(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	if n.snapshot != nil {
		if err := n.snapshot.StartAsync(n.cfg.Snapshot.Addr); err != nil {
			return fmt.Errorf("snapshot server: %w", err)
		}
	}
	if n.publisher != nil {
		if err := n.publisher.Start(); err != nil {
			return fmt.Errorf("event publisher: %w", err)
		}
	}
	return nil
}

func (n *Node) stopSurfaces() {
	if n.publisher != nil {
		n.publisher.Stop()
	}
	if n.snapshot != nil {
		n.snapshot.Stop()
	}
	if n.metricsServer != nil {
		_ = n.metricsServer.Stop()
	}
}

// Stop shuts everything down in reverse order. It is safe to call more than
// once.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return
	}

	n.emit(events.Event{Kind: events.KindStatus, Text: fmt.Sprintf("%s going offline", n.self.ID)})

	// Stop in reverse order
	n.stopSurfaces()
	n.registry.Stop()
	n.transport.Stop()

	n.running = false
	n.log.Infof("Node %s stopped", n.self.ID)
}

// dispatch routes one inbound message by kind.
func (n *Node) dispatch(msg *message.Message) {
	switch {
	case msg.Kind.IsDiscovery():
		n.registry.HandleIncoming(msg)

	case msg.Kind.IsText():
		n.emit(events.Event{Kind: events.KindMessage, Message: msg})

	case msg.Kind == message.KindPrivateMessage:
		if msg.TargetID != n.self.ID {
			n.log.Debugf("Private message %s is for %s, ignoring", msg.ID, msg.TargetID)
			return
		}
		n.emit(events.Event{Kind: events.KindMessage, Message: msg})

	case msg.Kind == message.KindGroupMessage:
		if !n.directory.IsGroupMessageForMe(msg) {
			return
		}
		n.emit(events.Event{Kind: events.KindMessage, Message: msg})

	case msg.Kind == message.KindGroupCreate:
		g, ok := n.directory.HandleGroupCreate(msg)
		if !ok {
			return
		}
		n.emit(events.Event{Kind: events.KindGroupJoined, Group: eventGroup(g)})

	default:
		n.log.Debugf("Ignoring reserved message kind %s from %s", msg.Kind, msg.SenderID)
	}
}

// registryListener forwards registry notifications to the node.
type registryListener struct {
	n *Node
}

func (l registryListener) PeerFound(p discovery.Peer) {
	l.n.directory.UpdateMemberPort(p.ID, p.Port, p.Name)
	l.n.emit(events.Event{Kind: events.KindPeerFound, Peer: eventPeer(p)})
}

func (l registryListener) PeerLost(p discovery.Peer) {
	l.n.emit(events.Event{Kind: events.KindPeerLost, Peer: eventPeer(p)})
}

func (l registryListener) PeersUpdated(peers []discovery.Peer) {
	out := make([]events.Peer, len(peers))
	for i, p := range peers {
		out[i] = *eventPeer(p)
	}
	l.n.emit(events.Event{Kind: events.KindPeersUpdated, Peers: out})
}

func (n *Node) emit(e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	n.observer.OnEvent(e)
}

// reportError publishes error-level log lines as error events.
func (n *Node) reportError(subsystem, msg string) {
	n.emit(events.Event{Kind: events.KindError, Source: subsystem, Text: msg})
}

func (n *Node) checkRunning() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.running {
		return ErrNotRunning
	}
	return nil
}

// Broadcast sends a text message to every node in the broadcast range.
func (n *Node) Broadcast(content string) (*message.Message, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	msg := n.self.NewMessage(message.KindText, content)
	n.transport.Send(msg.Clone())
	return msg, nil
}

// SendPrivate unicasts a private message to targetID at port.
func (n *Node) SendPrivate(content, targetID string, port int) (*message.Message, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	msg := n.self.NewMessage(message.KindPrivateMessage, content)
	msg.TargetID = targetID
	n.transport.SendToPeer(msg.Clone(), port)
	return msg, nil
}

// SendPrivateToPeer resolves the peer's port from the registry and sends a
// private message.
func (n *Node) SendPrivateToPeer(content, peerID string) (*message.Message, error) {
	p, ok := n.registry.Peer(peerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	return n.SendPrivate(content, p.ID, p.Port)
}

// SendGroup sends a group message under the fixed-redundancy policy.
func (n *Node) SendGroup(ctx context.Context, groupID, content string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.directory.SendGroupMessage(ctx, groupID, content)
}

// CreateGroup creates a group with self and every member id known to the
// registry, and announces it.
func (n *Node) CreateGroup(name string, memberIDs []string) (group.Group, error) {
	if err := n.checkRunning(); err != nil {
		return group.Group{}, err
	}

	info := make(map[string]group.MemberInfo)
	for _, id := range memberIDs {
		if p, ok := n.registry.Peer(id); ok {
			info[id] = group.MemberInfo{Port: p.Port, Name: p.Name}
		}
	}
	if len(info) == 0 {
		return group.Group{}, ErrNoKnownMembers
	}

	g := n.directory.CreateGroup(name, memberIDs, info)
	n.emit(events.Event{Kind: events.KindGroupCreated, Group: eventGroup(g)})
	return g, nil
}

// Scan sends a discovery probe immediately.
func (n *Node) Scan() error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	n.registry.ProbeNow()
	return nil
}

// Self returns the node's identity.
func (n *Node) Self() message.Identity { return n.self }

// Metrics returns the node's metrics.
func (n *Node) Metrics() *monitoring.Metrics { return n.metrics }

// Peers returns every registry entry.
func (n *Node) Peers() []discovery.Peer { return n.registry.Peers() }

// Peer looks up one registry entry.
func (n *Node) Peer(id string) (discovery.Peer, bool) { return n.registry.Peer(id) }

// Groups returns every known group.
func (n *Node) Groups() []group.Group { return n.directory.Groups() }

// Group looks up one group.
func (n *Node) Group(id string) (group.Group, bool) { return n.directory.Group(id) }

// Status returns the current status of the node.
func (n *Node) Status() NodeStatus {
	n.mu.RLock()
	running := n.running
	n.mu.RUnlock()

	s := NodeStatus{
		NodeID:      n.self.ID,
		Name:        n.self.Name,
		Port:        n.self.Port,
		IsRunning:   running,
		PeerCount:   n.registry.Count(),
		OnlinePeers: len(n.registry.OnlinePeers()),
		GroupCount:  len(n.directory.Groups()),
		Transport:   n.transport.Stats(),
	}
	if n.metricsServer != nil {
		if addr := n.metricsServer.Addr(); addr != nil {
			s.MetricsAddr = addr.String()
		}
	}
	if n.snapshot != nil {
		if addr := n.snapshot.Addr(); addr != nil {
			s.SnapshotAddr = addr.String()
		}
	}
	if n.publisher != nil {
		if addr := n.publisher.Addr(); addr != nil {
			s.EventsAddr = addr.String()
		}
	}
	return s
}

// PeerRows returns the peer table for the snapshot server.
func (n *Node) PeerRows() []arrow.PeerRow {
	now := time.Now()
	timeout := n.cfg.Discovery.Timeout.Duration

	peers := n.registry.Peers()
	rows := make([]arrow.PeerRow, len(peers))
	for i, p := range peers {
		rows[i] = arrow.PeerRow{
			ID:       p.ID,
			Name:     p.Name,
			Port:     p.Port,
			LastSeen: float64(p.LastSeen.UnixNano()) / 1e9,
			Online:   p.IsOnline(now, timeout),
		}
	}
	return rows
}

// GroupRows returns the group table for the snapshot server.
func (n *Node) GroupRows() []arrow.GroupRow {
	groups := n.directory.Groups()
	rows := make([]arrow.GroupRow, len(groups))
	for i, g := range groups {
		rows[i] = arrow.GroupRow{
			ID:          g.ID,
			Name:        g.Name,
			CreatorID:   g.CreatorID,
			Members:     g.Members,
			MemberPorts: g.MemberPorts,
			MemberNames: g.MemberNames,
		}
	}
	return rows
}

func eventPeer(p discovery.Peer) *events.Peer {
	return &events.Peer{ID: p.ID, Name: p.Name, Port: p.Port, LastSeen: p.LastSeen}
}

func eventGroup(g group.Group) *events.Group {
	return &events.Group{
		ID:          g.ID,
		Name:        g.Name,
		CreatorID:   g.CreatorID,
		Members:     g.Members,
		MemberNames: g.MemberNames,
	}
}
