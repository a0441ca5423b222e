// Package api serves read-only snapshots of a node's peer and group tables
// to out-of-process consumers as Arrow IPC streams over TCP.
package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/VanDung-dev/LanChat-Engine/arrow"
	"github.com/VanDung-dev/LanChat-Engine/logging"
)

var log = logging.Logger(logging.SubsystemAPI)

// Source supplies the tables served by SnapshotServer.
type Source interface {
	PeerRows() []arrow.PeerRow
	GroupRows() []arrow.GroupRow
}

// SnapshotServer answers "peers" and "groups" requests with the current
// table encoded as an Arrow IPC stream. Any other request gets an error
// frame and the connection stays open.
type SnapshotServer struct {
	source Source
	ipc    *arrow.IPCWriter

	listener net.Listener
	conns    map[net.Conn]struct{}
	running  bool
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewSnapshotServer creates a server over source.
func NewSnapshotServer(source Source) *SnapshotServer {
	return &SnapshotServer{
		source: source,
		ipc:    arrow.NewIPCWriter(),
		conns:  make(map[net.Conn]struct{}),
	}
}

// StartAsync listens on address and serves in the background.
func (s *SnapshotServer) StartAsync(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(lis)

	log.Infof("Snapshot server listening on %s", lis.Addr())
	return nil
}

// Addr returns the listening address, or nil when stopped.
func (s *SnapshotServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection and waits for the
// handlers to return.
func (s *SnapshotServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	_ = s.listener.Close()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *SnapshotServer) acceptLoop(lis net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debugf("Accept error: %v", err)
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

// handleConnection serves requests on one connection until it closes.
func (s *SnapshotServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		// 1. Read request
		req, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debugf("Read error from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		// 2. Build response
		resp, err := s.respond(string(req))
		if err != nil {
			log.Warnf("Snapshot request %q failed: %v", req, err)
			resp = errorFrame(err.Error())
		}

		// 3. Write response
		if err := WriteFrame(conn, resp); err != nil {
			log.Debugf("Write error to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (s *SnapshotServer) respond(req string) ([]byte, error) {
	switch req {
	case RequestPeers:
		return s.ipc.EncodePeers(s.source.PeerRows())
	case RequestGroups:
		return s.ipc.EncodeGroups(s.source.GroupRows())
	default:
		return nil, fmt.Errorf("unknown request %q", req)
	}
}
