package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-zeromq/zmq4"
	json "github.com/goccy/go-json"

	"github.com/VanDung-dev/LanChat-Engine/logging"
)

var log = logging.Logger(logging.SubsystemEvents)

// ErrPublisherRunning is returned when Start is called twice.
var ErrPublisherRunning = errors.New("publisher already running")

const publishQueueSize = 256

// Publisher is an Observer that republishes events on a ZeroMQ PUB socket as
// two-frame messages: the event kind, then the JSON-encoded event.
// Subscribers can filter by kind prefix.
type Publisher struct {
	addr  string
	sock  zmq4.Socket
	queue chan Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPublisher creates a publisher that will bind to addr, for example
// "tcp://127.0.0.1:5600".
func NewPublisher(addr string) *Publisher {
	return &Publisher{
		addr:  addr,
		queue: make(chan Event, publishQueueSize),
	}
}

// Start binds the PUB socket and starts the publish loop.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPublisherRunning
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.sock = zmq4.NewPub(p.ctx)
	if err := p.sock.Listen(p.addr); err != nil {
		p.cancel()
		return fmt.Errorf("failed to bind event publisher on %s: %w", p.addr, err)
	}

	p.running = true
	p.wg.Add(1)
	go p.publishLoop()

	log.Infof("Event publisher listening on %s", p.addr)
	return nil
}

// Stop closes the socket and waits for the publish loop.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	_ = p.sock.Close()
}

// Addr returns the bound address, or nil when not running.
func (p *Publisher) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	return p.sock.Addr()
}

// OnEvent queues e for publishing. Events are dropped when the queue is full
// or the publisher is stopped.
func (p *Publisher) OnEvent(e Event) {
	select {
	case p.queue <- e:
	default:
		log.Debugf("Event queue full, dropping %s", e.Kind)
	}
}

func (p *Publisher) publishLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case e := <-p.queue:
			data, err := json.Marshal(e)
			if err != nil {
				log.Warnf("Failed to encode %s event: %v", e.Kind, err)
				continue
			}
			msg := zmq4.NewMsgFrom([]byte(e.Kind), data)
			if err := p.sock.Send(msg); err != nil {
				if p.ctx.Err() != nil {
					return
				}
				log.Warnf("Failed to publish %s event: %v", e.Kind, err)
			}
		}
	}
}
