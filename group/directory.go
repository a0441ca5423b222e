// Package group maintains replicated group membership without a
// coordinator.
//
// Every member holds its own copy of each group record. Copies converge by
// merging group_create announcements: member sets are unioned and each port
// or name entry keeps the value from the latest announcement that set it.
package group

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/VanDung-dev/LanChat-Engine/logging"
	"github.com/VanDung-dev/LanChat-Engine/message"
	"github.com/VanDung-dev/LanChat-Engine/monitoring"
)

// ErrUnknownGroup is returned when an operation names a group that is not
// known locally.
var ErrUnknownGroup = errors.New("unknown group")

// Sender is the part of the transport the directory uses.
type Sender interface {
	SendToPeer(msg *message.Message, port int)
}

// stamped is a value with the timestamp of the announcement that set it.
type stamped[T any] struct {
	value T
	stamp float64
}

// newer reports whether (v, s) should replace cur: a later stamp wins and
// equal stamps keep the larger value, so the outcome does not depend on
// arrival order.
func newer[T int | string](cur stamped[T], v T, s float64) bool {
	if s != cur.stamp {
		return s > cur.stamp
	}
	return v > cur.value
}

// record is the local state of one group. An id is a member once any
// announcement gave it a port. Names are kept for every announced id so a
// name that arrives before the port still competes by stamp.
type record struct {
	id      string
	name    stamped[string]
	creator stamped[string]
	ports   map[string]stamped[int]
	names   map[string]stamped[string]
}

func newRecord(id string) *record {
	return &record{
		id:    id,
		ports: make(map[string]stamped[int]),
		names: make(map[string]stamped[string]),
	}
}

func (r *record) setPort(id string, port int, s float64) {
	if cur, ok := r.ports[id]; !ok || newer(cur, port, s) {
		r.ports[id] = stamped[int]{port, s}
	}
}

func (r *record) setName(id, name string, s float64) {
	if name == "" {
		return
	}
	if cur, ok := r.names[id]; !ok || newer(cur, name, s) {
		r.names[id] = stamped[string]{name, s}
	}
}

// Option configures a Directory.
type Option func(*Directory)

// WithRedundancy replaces the group send policy.
func WithRedundancy(r Redundancy) Option {
	return func(d *Directory) { d.redundancy = r }
}

// WithMetrics records group counts and fan-out latency on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

// WithErrorHook reports user-visible failures to h in addition to the log.
func WithErrorHook(h logging.ErrorHook) Option {
	return func(d *Directory) { d.log = logging.NewReporter(logging.SubsystemGroup, h) }
}

// WithClock replaces time.Now for locally stamped updates.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// Directory is the group table of one node.
type Directory struct {
	self       message.Identity
	sender     Sender
	redundancy Redundancy
	metrics    *monitoring.Metrics
	log        *logging.Reporter
	now        func() time.Time

	groups map[string]*record
	mu     sync.RWMutex
}

// NewDirectory creates an empty directory for self.
func NewDirectory(self message.Identity, sender Sender, opts ...Option) *Directory {
	d := &Directory{
		self:       self,
		sender:     sender,
		redundancy: DefaultRedundancy(),
		log:        logging.NewReporter(logging.SubsystemGroup, nil),
		now:        time.Now,
		groups:     make(map[string]*record),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateGroup creates a group with self and every id in memberIDs that has
// an entry in memberInfo, stores it, and announces it to the other members.
func (d *Directory) CreateGroup(name string, memberIDs []string, memberInfo map[string]MemberInfo) Group {
	announce := d.self.NewMessage(message.KindGroupCreate, "")
	stamp := announce.Timestamp

	rec := newRecord(message.NewID())
	rec.name = stamped[string]{name, stamp}
	rec.creator = stamped[string]{d.self.ID, stamp}
	d.pinSelf(rec)

	for _, id := range memberIDs {
		if id == d.self.ID {
			continue
		}
		info, ok := memberInfo[id]
		if !ok {
			d.log.Debugf("Skipping %s: no address known", id)
			continue
		}
		rec.setPort(id, info.Port, stamp)
		rec.setName(id, info.Name, stamp)
	}

	d.mu.Lock()
	d.groups[rec.id] = rec
	g := rec.snapshot()
	count := len(d.groups)
	d.mu.Unlock()

	d.metrics.UpdateGroups(count)
	d.announce(announce, g)

	d.log.Infof("Created group %s (%s) with %d members", g.Name, g.ID, len(g.Members))
	return g
}

// announce sends the group record to every member but self.
func (d *Directory) announce(msg *message.Message, g Group) {
	data, err := EncodeRecord(RecordOf(g))
	if err != nil {
		d.log.Errorf("Failed to announce group %s: %v", g.ID, err)
		return
	}
	msg.Content = string(data)
	msg.GroupID = g.ID
	msg.GroupMembers = append([]string(nil), g.Members...)

	for id, port := range g.OtherPorts(d.self.ID) {
		d.sender.SendToPeer(msg.Clone(), port)
		d.log.Debugf("Sent group %s to %s at port %d", g.ID, id, port)
	}
}

// HandleGroupCreate merges the announced record into the local table, or
// stores it when the group is new. Self is always a member of the result.
// A malformed payload is logged and reported as false.
func (d *Directory) HandleGroupCreate(msg *message.Message) (Group, bool) {
	rec, err := DecodeRecord([]byte(msg.Content))
	if err != nil {
		d.log.Errorf("Failed to parse group info from %s: %v", msg.SenderID, err)
		return Group{}, false
	}

	d.mu.Lock()
	local, known := d.groups[rec.GroupID]
	if !known {
		local = newRecord(rec.GroupID)
		d.groups[rec.GroupID] = local
	}
	d.merge(local, rec, msg.Timestamp)
	g := local.snapshot()
	count := len(d.groups)
	d.mu.Unlock()

	d.metrics.UpdateGroups(count)
	if known {
		d.log.Debugf("Merged group %s (%d members)", g.ID, len(g.Members))
	} else {
		d.log.Infof("Joined group %s (%s) with %d members", g.Name, g.ID, len(g.Members))
	}
	return g, true
}

// merge applies an announcement stamped s. Must hold d.mu.
func (d *Directory) merge(local *record, rec Record, s float64) {
	if rec.Name != "" && newer(local.name, rec.Name, s) {
		local.name = stamped[string]{rec.Name, s}
	}
	if rec.CreatorID != "" && newer(local.creator, rec.CreatorID, s) {
		local.creator = stamped[string]{rec.CreatorID, s}
	}

	for _, id := range rec.MemberIDs {
		if id == d.self.ID {
			continue
		}
		if port, ok := rec.MemberPorts[id]; ok {
			local.setPort(id, port, s)
		} else {
			d.log.Debugf("Group %s lists %s without a port", rec.GroupID, id)
		}
		local.setName(id, rec.MemberNames[id], s)
	}

	d.pinSelf(local)
}

// pinSelf makes our own entry reflect our identity. Must hold d.mu or own r.
func (d *Directory) pinSelf(r *record) {
	r.ports[d.self.ID] = stamped[int]{value: d.self.Port}
	r.names[d.self.ID] = stamped[string]{value: d.self.Name}
}

// SendGroupMessage unicasts one group_message to every other member under
// the fixed-redundancy policy. Unknown groups are logged and reported as
// ErrUnknownGroup without sending anything.
func (d *Directory) SendGroupMessage(ctx context.Context, groupID, content string) error {
	g, ok := d.Group(groupID)
	if !ok {
		d.metrics.RecordUnknownGroup()
		d.log.Errorf("Group %s not found", groupID)
		return ErrUnknownGroup
	}

	msg := d.self.NewMessage(message.KindGroupMessage, content)
	msg.GroupID = groupID
	targets := g.OtherPorts(d.self.ID)

	start := time.Now()
	err := d.redundancy.Run(ctx, func(int) {
		for _, port := range targets {
			d.sender.SendToPeer(msg.Clone(), port)
		}
	})
	d.metrics.RecordGroupFanout(time.Since(start))

	d.log.Debugf("Group message %s sent to %d members", msg.ID, len(targets))
	return err
}

// IsGroupMessageForMe reports whether msg belongs to a known group that
// lists self as a member. Messages for unknown groups are dropped; there is
// no pending buffer for a group_create that has not arrived yet.
func (d *Directory) IsGroupMessageForMe(msg *message.Message) bool {
	d.mu.RLock()
	rec, ok := d.groups[msg.GroupID]
	var isMember bool
	if ok {
		_, isMember = rec.ports[d.self.ID]
	}
	d.mu.RUnlock()

	if !ok {
		d.metrics.RecordUnknownGroup()
		d.log.Debugf("Group %s not found locally", msg.GroupID)
		return false
	}
	return isMember
}

// UpdateMemberPort refreshes the port, and the name when given, of memberID
// in every group that lists it.
func (d *Directory) UpdateMemberPort(memberID string, port int, name string) {
	if memberID == d.self.ID {
		return
	}
	s := float64(d.now().UnixNano()) / 1e9

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, rec := range d.groups {
		cur, ok := rec.ports[memberID]
		if !ok {
			continue
		}
		if s >= cur.stamp {
			rec.ports[memberID] = stamped[int]{port, s}
		}
		if n, ok := rec.names[memberID]; name != "" && (!ok || s >= n.stamp) {
			rec.names[memberID] = stamped[string]{name, s}
		}
	}
}

// Group returns a snapshot of one group.
func (d *Directory) Group(id string) (Group, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.groups[id]
	if !ok {
		return Group{}, false
	}
	return rec.snapshot(), true
}

// Groups returns snapshots of every group sorted by id.
func (d *Directory) Groups() []Group {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Group, 0, len(d.groups))
	for _, rec := range d.groups {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *record) snapshot() Group {
	g := Group{
		ID:          r.id,
		Name:        r.name.value,
		CreatorID:   r.creator.value,
		Members:     make([]string, 0, len(r.ports)),
		MemberPorts: make(map[string]int, len(r.ports)),
		MemberNames: make(map[string]string, len(r.ports)),
	}
	for id, p := range r.ports {
		g.Members = append(g.Members, id)
		g.MemberPorts[id] = p.value
		if n, ok := r.names[id]; ok && n.value != "" {
			g.MemberNames[id] = n.value
		}
	}
	sort.Strings(g.Members)
	return g
}
