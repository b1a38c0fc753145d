package insights

import (
	"encoding/json"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
)

// MetricRequest carries a metric in exactly one of its two encodings.
type MetricRequest struct {
	Metric     json.RawMessage `json:"metric,omitempty"`
	Compressed string          `json:"m,omitempty"`
}

// DiscoverRequest restricts a discovery run. Zero values fall back to every
// table of the source and its default discovery window ending now.
type DiscoverRequest struct {
	Tables []string   `json:"tables,omitempty"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
}

type DiscoverResponse struct {
	SnapshotID   string            `json:"snapshot_id"`
	SourceID     string            `json:"source_id"`
	Version      int               `json:"version"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	Tables       []string          `json:"tables"`
	Failures     map[string]string `json:"failures,omitempty"`
}

type SnapshotResponse struct {
	ID           string      `json:"id"`
	SourceID     string      `json:"source_id"`
	Version      int         `json:"version"`
	DiscoveredAt time.Time   `json:"discovered_at"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	Tables       []TableView `json:"tables"`
}

type TableView struct {
	Name          string      `json:"name"`
	QualifiedName string      `json:"qualified_name"`
	Events        []EventView `json:"events"`
}

type EventView struct {
	Name   string      `json:"name"`
	Fields []FieldView `json:"fields"`
}

// FieldView lists a field's enumerated values. Enums is null when values
// were not enumerated or exceeded the cardinality limit.
type FieldView struct {
	Path  string         `json:"path"`
	Type  model.DataType `json:"type"`
	Enums []any          `json:"enums"`
}

type SQLResponse struct {
	Kind       string `json:"kind"`
	SQL        string `json:"sql"`
	Compressed string `json:"m"`
}

type RunResponse struct {
	SQL     string   `json:"sql"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func newSnapshotResponse(s *model.DiscoveredEventDataSource) SnapshotResponse {
	resp := SnapshotResponse{
		ID:           s.ID,
		SourceID:     s.SourceID,
		Version:      s.Version,
		DiscoveredAt: s.DiscoveredAt,
		Start:        s.Start,
		End:          s.End,
		Tables:       make([]TableView, 0, len(s.Tables)),
	}
	for _, name := range s.TableNames() {
		table := s.Tables[name]
		tv := TableView{Name: name, QualifiedName: table.Table.QualifiedName()}
		for _, eventName := range table.EventNames() {
			event := table.Events[eventName]
			ev := EventView{Name: eventName, Fields: make([]FieldView, 0, len(event.Fields))}
			for _, path := range event.Paths() {
				def := event.Fields[path]
				ev.Fields = append(ev.Fields, FieldView{Path: path, Type: def.Field.Type, Enums: def.Enums})
			}
			tv.Events = append(tv.Events, ev)
		}
		resp.Tables = append(resp.Tables, tv)
	}
	return resp
}
