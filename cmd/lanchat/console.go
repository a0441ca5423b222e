package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/VanDung-dev/LanChat-Engine/discovery"
	"github.com/VanDung-dev/LanChat-Engine/events"
	"github.com/VanDung-dev/LanChat-Engine/group"
	"github.com/VanDung-dev/LanChat-Engine/message"
	"github.com/VanDung-dev/LanChat-Engine/network"
)

const helpText = `Commands:
  /peers                      list known peers
  /groups                     list groups
  /scan                       probe for peers now
  /msg <peer-id> <text>       private message
  /group new <name> <id,id>   create a group with the given peers
  /g <group-id> <text>        group message
  /status                     node status
  /quit                       exit
Anything else is broadcast to everyone.
`

var errQuit = errors.New("quit")

// chatNode is the part of network.Node the console drives.
type chatNode interface {
	Self() message.Identity
	Broadcast(content string) (*message.Message, error)
	SendPrivateToPeer(content, peerID string) (*message.Message, error)
	SendGroup(ctx context.Context, groupID, content string) error
	CreateGroup(name string, memberIDs []string) (group.Group, error)
	Scan() error
	Peers() []discovery.Peer
	Groups() []group.Group
	Status() network.NodeStatus
}

type console struct {
	node chatNode
	out  io.Writer
}

func newConsole(node chatNode, out io.Writer) *console {
	return &console{node: node, out: out}
}

// Run reads commands from in until /quit, EOF or ctx is cancelled.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := c.node.Broadcast(line)
		return err
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		return errQuit

	case "/help":
		fmt.Fprint(c.out, helpText)

	case "/peers":
		peers := c.node.Peers()
		if len(peers) == 0 {
			fmt.Fprintln(c.out, "No peers known")
			return nil
		}
		for _, p := range peers {
			fmt.Fprintf(c.out, "  %-24s %-12s %5d  last seen %s\n",
				p.ID, p.Name, p.Port, p.LastSeen.Format(time.TimeOnly))
		}

	case "/groups":
		groups := c.node.Groups()
		if len(groups) == 0 {
			fmt.Fprintln(c.out, "No groups")
			return nil
		}
		for _, g := range groups {
			fmt.Fprintf(c.out, "  %s  %-16s %s\n", g.ID, g.Name, strings.Join(g.Members, ", "))
		}

	case "/scan":
		if err := c.node.Scan(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Scanning...")

	case "/status":
		s := c.node.Status()
		fmt.Fprintf(c.out, "  %s on port %d, %d peers (%d online), %d groups\n",
			s.NodeID, s.Port, s.PeerCount, s.OnlinePeers, s.GroupCount)

	case "/msg":
		peerID, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return errors.New("usage: /msg <peer-id> <text>")
		}
		_, err := c.node.SendPrivateToPeer(strings.TrimSpace(text), peerID)
		return err

	case "/group":
		fields := strings.Fields(rest)
		if len(fields) != 3 || fields[0] != "new" {
			return errors.New("usage: /group new <name> <id,id>")
		}
		g, err := c.node.CreateGroup(fields[1], splitIDs(fields[2]))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Created group %s (%s)\n", g.Name, g.ID)

	case "/g":
		groupID, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return errors.New("usage: /g <group-id> <text>")
		}
		return c.node.SendGroup(ctx, groupID, strings.TrimSpace(text))

	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// printer renders node events as console lines.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
}

func newPrinter(out io.Writer, prefix string) *printer {
	return &printer{out: out, prefix: prefix}
}

func (p *printer) OnEvent(e events.Event) {
	line := formatEvent(e)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prefix != "" {
		fmt.Fprintf(p.out, "[%s] %s\n", p.prefix, line)
		return
	}
	fmt.Fprintln(p.out, line)
}

func formatEvent(e events.Event) string {
	switch e.Kind {
	case events.KindMessage:
		m := e.Message
		if m == nil {
			return ""
		}
		return fmt.Sprintf("%s [%s] %s: %s",
			m.Time().Format(time.TimeOnly), m.ConversationID(), m.SenderName, m.Content)
	case events.KindPeerFound:
		if e.Peer != nil {
			return fmt.Sprintf("* %s joined (%s)", e.Peer.Name, e.Peer.ID)
		}
	case events.KindPeerLost:
		if e.Peer != nil {
			return fmt.Sprintf("* %s went offline", e.Peer.Name)
		}
	case events.KindGroupJoined:
		if e.Group != nil {
			return fmt.Sprintf("* added to group %s (%s)", e.Group.Name, e.Group.ID)
		}
	case events.KindGroupCreated:
		if e.Group != nil {
			return fmt.Sprintf("* group %s ready", e.Group.Name)
		}
	case events.KindError:
		return fmt.Sprintf("! %s: %s", e.Source, e.Text)
	case events.KindStatus:
		return e.Text
	}
	return ""
}
