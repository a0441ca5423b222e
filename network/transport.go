package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/VanDung-dev/LanChat-Engine/logging"
	"github.com/VanDung-dev/LanChat-Engine/message"
	"github.com/VanDung-dev/LanChat-Engine/monitoring"
)

var transportLog = logging.Logger(logging.SubsystemTransport)

// Common errors for network operations
var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
)

// BindError reports a socket that could not be opened. It is fatal to Start.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Handler processes one inbound message that survived decoding, loopback
// suppression and deduplication.
type Handler func(msg *message.Message)

// TransportConfig holds transport tunables.
type TransportConfig struct {
	ListenHost           string // receive socket bind address, "" for all interfaces
	Host                 string // destination host for emulated broadcast and unicast
	PortRangeStart       int
	PortRangeEnd         int
	BroadcastPorts       []int // overrides the port range when set
	QueueSize            int
	PollInterval         time.Duration
	SendPacing           time.Duration
	DedupThreshold       int
	DedupCleanupInterval time.Duration
}

// DefaultTransportConfig returns the default transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Host:                 "127.0.0.1",
		PortRangeStart:       5000,
		PortRangeEnd:         5009,
		QueueSize:            100,
		PollInterval:         500 * time.Millisecond,
		SendPacing:           10 * time.Millisecond,
		DedupThreshold:       500,
		DedupCleanupInterval: 60 * time.Second,
	}
}

// BroadcastTargets returns the ports an emulated broadcast is written to.
func (c TransportConfig) BroadcastTargets() []int {
	if len(c.BroadcastPorts) > 0 {
		return append([]int(nil), c.BroadcastPorts...)
	}
	var ports []int
	for p := c.PortRangeStart; p <= c.PortRangeEnd; p++ {
		ports = append(ports, p)
	}
	return ports
}

// TransportStats is a point-in-time view of the transport.
type TransportStats struct {
	Running        bool
	OutgoingQueued int
	IncomingQueued int
	SeenMessages   int
}

// UDPTransport sends and receives messages as UDP datagrams.
//
// Four workers run while started: receive (socket to inbound queue), send
// (outbound queue to every broadcast target), process (inbound queue to the
// handler) and dedup cleanup.
type UDPTransport struct {
	cfg     TransportConfig
	self    message.Identity
	handler Handler
	metrics *monitoring.Metrics

	seen     *SeenSet
	outgoing chan *message.Message
	incoming chan *message.Message
	pacer    *rate.Limiter

	recvConn net.PacketConn
	sendConn net.PacketConn

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// NewUDPTransport creates a transport for self. metrics may be nil.
func NewUDPTransport(cfg TransportConfig, self message.Identity, handler Handler, metrics *monitoring.Metrics) *UDPTransport {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 500
	}
	if cfg.DedupCleanupInterval <= 0 {
		cfg.DedupCleanupInterval = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.SendPacing > 0 {
		limit = rate.Every(cfg.SendPacing)
	}

	return &UDPTransport{
		cfg:      cfg,
		self:     self,
		handler:  handler,
		metrics:  metrics,
		seen:     NewSeenSet(),
		outgoing: make(chan *message.Message, cfg.QueueSize),
		incoming: make(chan *message.Message, cfg.QueueSize),
		pacer:    rate.NewLimiter(limit, 1),
	}
}

// Start binds both sockets and starts the workers.
func (t *UDPTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())

	// Receive socket, shared with other local nodes where the OS allows it
	recvAddr := net.JoinHostPort(t.cfg.ListenHost, strconv.Itoa(t.self.Port))
	lc := net.ListenConfig{Control: reuseControl}
	recvConn, err := lc.ListenPacket(t.ctx, "udp4", recvAddr)
	if err != nil {
		t.cancel()
		return &BindError{Addr: recvAddr, Err: err}
	}

	// Send socket on an ephemeral port
	lc = net.ListenConfig{Control: broadcastControl}
	sendConn, err := lc.ListenPacket(t.ctx, "udp4", ":0")
	if err != nil {
		_ = recvConn.Close()
		t.cancel()
		return &BindError{Addr: ":0", Err: err}
	}

	t.recvConn = recvConn
	t.sendConn = sendConn
	t.running = true

	t.wg.Add(4)
	go t.receiveLoop()
	go t.sendLoop()
	go t.processLoop()
	go t.dedupCleaner()

	transportLog.Infof("Transport for %s listening on %s", t.self.ID, recvConn.LocalAddr())
	return nil
}

// Stop closes the sockets and waits for every worker. It is safe to call
// more than once.
func (t *UDPTransport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	_ = t.recvConn.Close()
	_ = t.sendConn.Close()
	t.mu.Unlock()

	t.wg.Wait()
	transportLog.Infof("Transport for %s stopped", t.self.ID)
}

// IsRunning reports whether the transport is started.
func (t *UDPTransport) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// LocalAddr returns the receive socket address, or nil when stopped.
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.running {
		return nil
	}
	return t.recvConn.LocalAddr()
}

// Send queues msg for emulated broadcast. A full queue drops the message.
func (t *UDPTransport) Send(msg *message.Message) {
	message.Ensure(msg)

	select {
	case t.outgoing <- msg:
	default:
		t.metrics.RecordOverflow(monitoring.QueueOutgoing)
		transportLog.Debugf("Outgoing queue full, dropping %s %s", msg.Kind, msg.ID)
	}
}

// SendToPeer writes msg to a single port immediately. Failures are logged
// and never returned.
func (t *UDPTransport) SendToPeer(msg *message.Message, port int) {
	message.Ensure(msg)

	data, err := message.Encode(msg)
	if err != nil {
		transportLog.Warnf("Failed to encode %s: %v", msg.Kind, err)
		return
	}
	t.writeTo(data, port, msg.Kind)
}

// Stats returns queue depths and the dedup set size.
func (t *UDPTransport) Stats() TransportStats {
	return TransportStats{
		Running:        t.IsRunning(),
		OutgoingQueued: len(t.outgoing),
		IncomingQueued: len(t.incoming),
		SeenMessages:   t.seen.Len(),
	}
}

func (t *UDPTransport) writeTo(data []byte, port int, kind message.Kind) {
	t.mu.RLock()
	conn := t.sendConn
	running := t.running
	t.mu.RUnlock()

	if !running {
		transportLog.Debugf("Transport stopped, not sending %s to %d", kind, port)
		return
	}

	addr := &net.UDPAddr{IP: net.ParseIP(t.cfg.Host), Port: port}
	if addr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(t.cfg.Host, strconv.Itoa(port)))
		if err != nil {
			t.metrics.RecordSend(string(kind), err)
			transportLog.Warnf("Failed to resolve %s: %v", t.cfg.Host, err)
			return
		}
		addr = resolved
	}

	_, err := conn.WriteTo(data, addr)
	t.metrics.RecordSend(string(kind), err)
	if err != nil {
		transportLog.Debugf("Failed to send %s to %s: %v", kind, addr, err)
	}
}

// receiveLoop reads datagrams until the context is cancelled.
func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, message.MaxDatagramSize)
	for {
		if t.ctx.Err() != nil {
			return
		}

		_ = t.recvConn.SetReadDeadline(time.Now().Add(t.cfg.PollInterval))
		n, _, err := t.recvConn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			transportLog.Debugf("Receive error: %v", err)
			continue
		}

		t.metrics.RecordReceived()
		t.accept(buf[:n])
	}
}

// accept runs one datagram through decode, loopback suppression and dedup
// and queues it for the handler.
func (t *UDPTransport) accept(data []byte) {
	msg, err := message.Decode(data)
	if err != nil {
		t.metrics.RecordMalformed()
		transportLog.Debugf("Dropping datagram: %v", err)
		return
	}

	if msg.SenderID == t.self.ID {
		t.metrics.RecordLoopback()
		return
	}

	if !t.seen.CheckAndInsert(msg.ID) {
		t.metrics.RecordDuplicate()
		return
	}

	select {
	case t.incoming <- msg:
	default:
		t.metrics.RecordOverflow(monitoring.QueueIncoming)
		transportLog.Debugf("Incoming queue full, dropping %s %s", msg.Kind, msg.ID)
	}
}

// sendLoop writes each queued message to every broadcast target, paced.
func (t *UDPTransport) sendLoop() {
	defer t.wg.Done()

	targets := t.cfg.BroadcastTargets()
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg := <-t.outgoing:
			data, err := message.Encode(msg)
			if err != nil {
				transportLog.Warnf("Failed to encode %s: %v", msg.Kind, err)
				continue
			}

			// Consecutive fan-outs are at least SendPacing apart
			if err := t.pacer.Wait(t.ctx); err != nil {
				return
			}

			for _, port := range targets {
				if port == t.self.Port {
					continue
				}
				t.writeTo(data, port, msg.Kind)
			}
		}
	}
}

// processLoop hands inbound messages to the handler in arrival order.
func (t *UDPTransport) processLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case msg := <-t.incoming:
			t.handle(msg)
		}
	}
}

func (t *UDPTransport) handle(msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.RecordPanic()
			transportLog.Errorf("Handler panic on %s %s: %v", msg.Kind, msg.ID, r)
		}
	}()

	t.metrics.RecordProcessed(string(msg.Kind))
	if t.handler != nil {
		t.handler(msg)
	}
}

// dedupCleaner periodically clears the dedup set once it is too large.
func (t *UDPTransport) dedupCleaner() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.DedupCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.cleanDedup()
		}
	}
}

func (t *UDPTransport) cleanDedup() {
	size, cleared := t.seen.ClearIfLarger(t.cfg.DedupThreshold)
	if cleared {
		transportLog.Debugf("Dedup set exceeded %d ids, cleared", t.cfg.DedupThreshold)
	}
	t.metrics.UpdateDedupSize(size, cleared)
}
