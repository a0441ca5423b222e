package api

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VanDung-dev/LanChat-Engine/arrow"
)

// Client queries a SnapshotServer. It is safe for concurrent use; requests
// are serialized on one connection.
type Client struct {
	conn net.Conn
	ipc  *arrow.IPCWriter
	mu   sync.Mutex
}

// Dial connects to a snapshot server.
func Dial(address string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return &Client{conn: conn, ipc: arrow.NewIPCWriter()}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Peers fetches the peer table.
func (c *Client) Peers() ([]arrow.PeerRow, error) {
	data, err := c.Request(RequestPeers)
	if err != nil {
		return nil, err
	}
	return c.ipc.DecodePeers(data)
}

// Groups fetches the group table.
func (c *Client) Groups() ([]arrow.GroupRow, error) {
	data, err := c.Request(RequestGroups)
	if err != nil {
		return nil, err
	}
	return c.ipc.DecodeGroups(data)
}

// Request sends a raw request and returns the raw response. Error frames
// are returned as errors wrapping ErrRemote.
func (c *Client) Request(req string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteFrame(c.conn, []byte(req)); err != nil {
		return nil, err
	}
	resp, err := ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if reason, ok := parseErrorFrame(resp); ok {
		return nil, fmt.Errorf("%w: %s", ErrRemote, reason)
	}
	return resp, nil
}
