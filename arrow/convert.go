package arrow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// PeerRow is one row of the peer table.
type PeerRow struct {
	ID       string
	Name     string
	Port     int
	LastSeen float64
	Online   bool
}

// GroupRow is one row of the group table.
type GroupRow struct {
	ID          string
	Name        string
	CreatorID   string
	Members     []string
	MemberPorts map[string]int
	MemberNames map[string]string
}

// Converter builds and reads peer and group record batches.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{allocator: memory.DefaultAllocator}
}

// PeersToRecord converts rows to a record batch. An empty slice yields a
// zero-row batch.
func (c *Converter) PeersToRecord(rows []PeerRow) arrow.Record {
	builder := array.NewRecordBuilder(c.allocator, PeerSchema())
	defer builder.Release()

	idBuilder := builder.Field(0).(*array.StringBuilder)
	nameBuilder := builder.Field(1).(*array.StringBuilder)
	portBuilder := builder.Field(2).(*array.Int32Builder)
	seenBuilder := builder.Field(3).(*array.Float64Builder)
	onlineBuilder := builder.Field(4).(*array.BooleanBuilder)

	for _, p := range rows {
		idBuilder.Append(p.ID)
		nameBuilder.Append(p.Name)
		portBuilder.Append(int32(p.Port))
		seenBuilder.Append(p.LastSeen)
		onlineBuilder.Append(p.Online)
	}

	return builder.NewRecord()
}

// RecordToPeers reads a batch built by PeersToRecord.
func (c *Converter) RecordToPeers(record arrow.Record) ([]PeerRow, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}
	if err := checkColumns(record, PeerSchema()); err != nil {
		return nil, err
	}

	idCol, ok1 := record.Column(0).(*array.String)
	nameCol, ok2 := record.Column(1).(*array.String)
	portCol, ok3 := record.Column(2).(*array.Int32)
	seenCol, ok4 := record.Column(3).(*array.Float64)
	onlineCol, ok5 := record.Column(4).(*array.Boolean)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil, errors.New("peer record has unexpected column types")
	}

	rows := make([]PeerRow, record.NumRows())
	for i := range rows {
		rows[i] = PeerRow{
			ID:       idCol.Value(i),
			Name:     nameCol.Value(i),
			Port:     int(portCol.Value(i)),
			LastSeen: seenCol.Value(i),
			Online:   onlineCol.Value(i),
		}
	}
	return rows, nil
}

// GroupsToRecord converts rows to a record batch. Map entries are written in
// key order.
func (c *Converter) GroupsToRecord(rows []GroupRow) arrow.Record {
	builder := array.NewRecordBuilder(c.allocator, GroupSchema())
	defer builder.Release()

	idBuilder := builder.Field(0).(*array.StringBuilder)
	nameBuilder := builder.Field(1).(*array.StringBuilder)
	creatorBuilder := builder.Field(2).(*array.StringBuilder)
	membersBuilder := builder.Field(3).(*array.ListBuilder)
	portsBuilder := builder.Field(4).(*array.MapBuilder)
	namesBuilder := builder.Field(5).(*array.MapBuilder)

	memberValues := membersBuilder.ValueBuilder().(*array.StringBuilder)
	portKeys := portsBuilder.KeyBuilder().(*array.StringBuilder)
	portItems := portsBuilder.ItemBuilder().(*array.Int32Builder)
	nameKeys := namesBuilder.KeyBuilder().(*array.StringBuilder)
	nameItems := namesBuilder.ItemBuilder().(*array.StringBuilder)

	for _, g := range rows {
		idBuilder.Append(g.ID)
		nameBuilder.Append(g.Name)
		creatorBuilder.Append(g.CreatorID)

		membersBuilder.Append(true)
		for _, m := range g.Members {
			memberValues.Append(m)
		}

		portsBuilder.Append(true)
		for _, id := range sortedKeys(g.MemberPorts) {
			portKeys.Append(id)
			portItems.Append(int32(g.MemberPorts[id]))
		}

		if len(g.MemberNames) > 0 {
			namesBuilder.Append(true)
			for _, id := range sortedKeys(g.MemberNames) {
				nameKeys.Append(id)
				nameItems.Append(g.MemberNames[id])
			}
		} else {
			namesBuilder.AppendNull()
		}
	}

	return builder.NewRecord()
}

// RecordToGroups reads a batch built by GroupsToRecord.
func (c *Converter) RecordToGroups(record arrow.Record) ([]GroupRow, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}
	if err := checkColumns(record, GroupSchema()); err != nil {
		return nil, err
	}

	idCol, ok1 := record.Column(0).(*array.String)
	nameCol, ok2 := record.Column(1).(*array.String)
	creatorCol, ok3 := record.Column(2).(*array.String)
	membersCol, ok4 := record.Column(3).(*array.List)
	portsCol, ok5 := record.Column(4).(*array.Map)
	namesCol, ok6 := record.Column(5).(*array.Map)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, errors.New("group record has unexpected column types")
	}

	memberValues, ok1 := membersCol.ListValues().(*array.String)
	portKeys, ok2 := portsCol.Keys().(*array.String)
	portItems, ok3 := portsCol.Items().(*array.Int32)
	nameKeys, ok4 := namesCol.Keys().(*array.String)
	nameItems, ok5 := namesCol.Items().(*array.String)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil, errors.New("group record has unexpected nested types")
	}

	rows := make([]GroupRow, record.NumRows())
	for i := range rows {
		g := GroupRow{
			ID:          idCol.Value(i),
			Name:        nameCol.Value(i),
			CreatorID:   creatorCol.Value(i),
			Members:     []string{},
			MemberPorts: map[string]int{},
			MemberNames: map[string]string{},
		}

		start, end := membersCol.ValueOffsets(i)
		for j := start; j < end; j++ {
			g.Members = append(g.Members, memberValues.Value(int(j)))
		}

		start, end = portsCol.ValueOffsets(i)
		for j := start; j < end; j++ {
			g.MemberPorts[portKeys.Value(int(j))] = int(portItems.Value(int(j)))
		}

		if namesCol.IsValid(i) {
			start, end = namesCol.ValueOffsets(i)
			for j := start; j < end; j++ {
				g.MemberNames[nameKeys.Value(int(j))] = nameItems.Value(int(j))
			}
		}

		rows[i] = g
	}
	return rows, nil
}

// checkColumns validates column count and names against want.
func checkColumns(record arrow.Record, want *arrow.Schema) error {
	if int(record.NumCols()) != want.NumFields() {
		return fmt.Errorf("invalid record: expected %d columns, got %d", want.NumFields(), record.NumCols())
	}
	for i, f := range want.Fields() {
		if got := record.ColumnName(i); got != f.Name {
			return fmt.Errorf("invalid record: column %d is %q, expected %q", i, got, f.Name)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
