package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/VanDung-dev/LanChat-Engine/discovery"
	"github.com/VanDung-dev/LanChat-Engine/events"
	"github.com/VanDung-dev/LanChat-Engine/group"
	"github.com/VanDung-dev/LanChat-Engine/message"
	"github.com/VanDung-dev/LanChat-Engine/network"
)

type fakeNode struct {
	broadcasts []string
	private    [][2]string
	groupSends [][2]string
	created    []string
	members    []string
	scans      int
	sendErr    error
}

func (f *fakeNode) Self() message.Identity { return message.Identity{ID: "Me_5000", Name: "Me", Port: 5000} }

func (f *fakeNode) Broadcast(content string) (*message.Message, error) {
	f.broadcasts = append(f.broadcasts, content)
	return &message.Message{Content: content}, nil
}

func (f *fakeNode) SendPrivateToPeer(content, peerID string) (*message.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.private = append(f.private, [2]string{peerID, content})
	return &message.Message{Content: content}, nil
}

func (f *fakeNode) SendGroup(ctx context.Context, groupID, content string) error {
	f.groupSends = append(f.groupSends, [2]string{groupID, content})
	return nil
}

func (f *fakeNode) CreateGroup(name string, memberIDs []string) (group.Group, error) {
	f.created = append(f.created, name)
	f.members = memberIDs
	return group.Group{ID: "g1", Name: name}, nil
}

func (f *fakeNode) Scan() error { f.scans++; return nil }

func (f *fakeNode) Peers() []discovery.Peer {
	return []discovery.Peer{{ID: "Bob_5001", Name: "Bob", Port: 5001}}
}

func (f *fakeNode) Groups() []group.Group { return nil }

func (f *fakeNode) Status() network.NodeStatus { return network.NodeStatus{NodeID: "Me_5000"} }

func TestConsoleCommands(t *testing.T) {
	node := &fakeNode{}
	var out bytes.Buffer
	c := newConsole(node, &out)
	ctx := context.Background()

	if err := c.exec(ctx, "hello everyone"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(node.broadcasts) != 1 || node.broadcasts[0] != "hello everyone" {
		t.Errorf("Expected one broadcast, got %v", node.broadcasts)
	}

	if err := c.exec(ctx, "/msg Bob_5001 hi there"); err != nil {
		t.Fatalf("/msg: %v", err)
	}
	if len(node.private) != 1 || node.private[0] != [2]string{"Bob_5001", "hi there"} {
		t.Errorf("Expected private message to Bob, got %v", node.private)
	}

	if err := c.exec(ctx, "/group new team Bob_5001, Carol_5002"); err == nil {
		t.Error("Expected usage error for spaced member list")
	}
	if err := c.exec(ctx, "/group new team Bob_5001,Carol_5002"); err != nil {
		t.Fatalf("/group: %v", err)
	}
	if len(node.members) != 2 || node.members[1] != "Carol_5002" {
		t.Errorf("Expected two members, got %v", node.members)
	}

	if err := c.exec(ctx, "/g g1 standup now"); err != nil {
		t.Fatalf("/g: %v", err)
	}
	if len(node.groupSends) != 1 || node.groupSends[0] != [2]string{"g1", "standup now"} {
		t.Errorf("Expected group send, got %v", node.groupSends)
	}

	if err := c.exec(ctx, "/scan"); err != nil || node.scans != 1 {
		t.Errorf("Expected one scan, got %d (%v)", node.scans, err)
	}

	out.Reset()
	if err := c.exec(ctx, "/peers"); err != nil {
		t.Fatalf("/peers: %v", err)
	}
	if !strings.Contains(out.String(), "Bob_5001") {
		t.Errorf("Expected peer listing, got %q", out.String())
	}

	if err := c.exec(ctx, "/quit"); !errors.Is(err, errQuit) {
		t.Errorf("Expected errQuit, got %v", err)
	}
	if err := c.exec(ctx, "/bogus"); err == nil {
		t.Error("Expected error for unknown command")
	}
	if err := c.exec(ctx, "/msg Bob_5001"); err == nil {
		t.Error("Expected usage error for /msg without text")
	}
}

func TestConsoleRunStopsOnQuit(t *testing.T) {
	node := &fakeNode{sendErr: errors.New("unknown peer")}
	var out bytes.Buffer
	c := newConsole(node, &out)

	in := strings.NewReader("first\n/msg nobody hi\n/quit\nafter quit\n")
	if err := c.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(node.broadcasts) != 1 {
		t.Errorf("Expected 1 broadcast before quit, got %d", len(node.broadcasts))
	}
	if !strings.Contains(out.String(), "Error: unknown peer") {
		t.Errorf("Expected send error in output, got %q", out.String())
	}
}

func TestFormatEvent(t *testing.T) {
	msg := &message.Message{
		Kind:       message.KindPrivateMessage,
		SenderID:   "Bob_5001",
		SenderName: "Bob",
		Content:    "psst",
		Timestamp:  1700000000.5,
	}
	want := time.Unix(1700000000, 5e8).Format(time.TimeOnly) + " [private_Bob_5001] Bob: psst"
	if got := formatEvent(events.Event{Kind: events.KindMessage, Message: msg}); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if got := formatEvent(events.Event{Kind: events.KindPeersUpdated}); got != "" {
		t.Errorf("Expected peers_updated to be silent, got %q", got)
	}

	var out bytes.Buffer
	p := newPrinter(&out, "Alice")
	p.OnEvent(events.Event{Kind: events.KindError, Source: "group", Text: "unknown group"})
	if out.String() != "[Alice] ! group: unknown group\n" {
		t.Errorf("Expected prefixed error line, got %q", out.String())
	}
}
