package group

import (
	"errors"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

// ErrMalformedRecord is wrapped by DecodeRecord failures.
var ErrMalformedRecord = errors.New("malformed group record")

// Group is a snapshot of one membership record. Every id in Members has an
// entry in MemberPorts; MemberNames is best-effort.
type Group struct {
	ID          string
	Name        string
	CreatorID   string
	Members     []string // sorted
	MemberPorts map[string]int
	MemberNames map[string]string
}

// IsMember reports whether id is in the member set.
func (g Group) IsMember(id string) bool {
	_, ok := g.MemberPorts[id]
	return ok
}

// OtherPorts returns the ports of every member except exclude, keyed by id.
func (g Group) OtherPorts(exclude string) map[string]int {
	out := make(map[string]int, len(g.MemberPorts))
	for id, port := range g.MemberPorts {
		if id != exclude {
			out[id] = port
		}
	}
	return out
}

// MemberInfo is what the directory needs to know about a prospective member.
type MemberInfo struct {
	Port int
	Name string
}

// Record is the wire form of a group carried in group_create content.
type Record struct {
	GroupID     string            `json:"group_id"`
	Name        string            `json:"name"`
	CreatorID   string            `json:"creator_id"`
	MemberIDs   []string          `json:"member_ids"`
	MemberPorts map[string]int    `json:"member_ports"`
	MemberNames map[string]string `json:"member_names"`
}

// RecordOf converts a snapshot to its wire form.
func RecordOf(g Group) Record {
	r := Record{
		GroupID:     g.ID,
		Name:        g.Name,
		CreatorID:   g.CreatorID,
		MemberIDs:   append([]string(nil), g.Members...),
		MemberPorts: make(map[string]int, len(g.MemberPorts)),
		MemberNames: make(map[string]string, len(g.MemberNames)),
	}
	for id, p := range g.MemberPorts {
		r.MemberPorts[id] = p
	}
	for id, n := range g.MemberNames {
		r.MemberNames[id] = n
	}
	sort.Strings(r.MemberIDs)
	return r
}

// EncodeRecord serializes r.
func EncodeRecord(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode group record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a group record. group_id and creator_id are required.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.GroupID == "" {
		return Record{}, fmt.Errorf("%w: missing group_id", ErrMalformedRecord)
	}
	if r.CreatorID == "" {
		return Record{}, fmt.Errorf("%w: missing creator_id", ErrMalformedRecord)
	}
	return r, nil
}
