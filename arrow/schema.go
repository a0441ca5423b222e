package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// PeerSchema returns the Arrow schema of the peer table.
//
// Fields:
//   - id: string - Node id (name_port)
//   - name: string - Display name
//   - port: int32 - Receive port
//   - last_seen: float64 - Unix seconds of the last discovery message
//   - online: bool - Whether the peer is within the liveness timeout
func PeerSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "id", Type: arrow.BinaryTypes.String},
			{Name: "name", Type: arrow.BinaryTypes.String},
			{Name: "port", Type: arrow.PrimitiveTypes.Int32},
			{Name: "last_seen", Type: arrow.PrimitiveTypes.Float64},
			{Name: "online", Type: arrow.FixedWidthTypes.Boolean},
		},
		nil,
	)
}

// GroupSchema returns the Arrow schema of the group table.
//
// Fields:
//   - id: string - Group id
//   - name: string - Display name
//   - creator_id: string - Node that created the group
//   - members: list<string> - Member ids, sorted
//   - member_ports: map<string, int32> - Member id to port
//   - member_names: map<string, string> (nullable) - Member id to display name
func GroupSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "id", Type: arrow.BinaryTypes.String},
			{Name: "name", Type: arrow.BinaryTypes.String},
			{Name: "creator_id", Type: arrow.BinaryTypes.String},
			{Name: "members", Type: arrow.ListOf(arrow.BinaryTypes.String)},
			{Name: "member_ports", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int32)},
			{Name: "member_names", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.BinaryTypes.String), Nullable: true},
		},
		nil,
	)
}
