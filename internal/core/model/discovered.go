package model

import (
	"sort"
	"time"
)

// EventFieldDef ties an event to one of its fields. A def without a field
// refers to the event itself. Enums is nil when values were not enumerated or
// the field exceeded its cardinality limit.
type EventFieldDef struct {
	SourceID  string
	Table     EventDataTable
	EventName string
	Field     Field
	Enums     []any
}

// HasField reports whether the def refers to a field rather than the event.
func (d EventFieldDef) HasField() bool {
	return d.Field.Name != ""
}

// Path is the dotted field path, empty for an event-level def.
func (d EventFieldDef) Path() string {
	if !d.HasField() {
		return ""
	}
	return d.Field.Path()
}

func (d EventFieldDef) is(op Operator, right any) SimpleSegment {
	return SimpleSegment{Left: d, Operator: op, Right: right}
}

func (d EventFieldDef) Eq(v any) SimpleSegment      { return d.is(OpEq, v) }
func (d EventFieldDef) Neq(v any) SimpleSegment     { return d.is(OpNeq, v) }
func (d EventFieldDef) Gt(v any) SimpleSegment      { return d.is(OpGt, v) }
func (d EventFieldDef) Lt(v any) SimpleSegment      { return d.is(OpLt, v) }
func (d EventFieldDef) GtEq(v any) SimpleSegment    { return d.is(OpGtEq, v) }
func (d EventFieldDef) LtEq(v any) SimpleSegment    { return d.is(OpLtEq, v) }
func (d EventFieldDef) Like(p string) SimpleSegment { return d.is(OpLike, p) }

func (d EventFieldDef) NotLike(p string) SimpleSegment { return d.is(OpNotLike, p) }
func (d EventFieldDef) AnyOf(vs ...any) SimpleSegment  { return d.is(OpAnyOf, vs) }
func (d EventFieldDef) NoneOf(vs ...any) SimpleSegment { return d.is(OpNoneOf, vs) }
func (d EventFieldDef) IsNull() SimpleSegment          { return d.is(OpIsNull, nil) }
func (d EventFieldDef) IsNotNull() SimpleSegment       { return d.is(OpIsNotNull, nil) }

// EventDef is one event name of a table with its discovered fields.
type EventDef struct {
	SourceID  string
	Table     EventDataTable
	EventName string
	Fields    map[string]EventFieldDef // keyed by dotted path
}

// Ref is the event-level def, used for "event occurred" segments.
func (e EventDef) Ref() EventFieldDef {
	return EventFieldDef{SourceID: e.SourceID, Table: e.Table, EventName: e.EventName}
}

// Occurred is the segment matching every occurrence of the event.
func (e EventDef) Occurred() SimpleSegment {
	return SimpleSegment{Left: e.Ref()}
}

// Field looks up a field by dotted path.
func (e EventDef) Field(path string) (EventFieldDef, error) {
	def, ok := e.Fields[path]
	if !ok {
		return EventFieldDef{}, &NotFoundError{Kind: "field", Name: e.EventName + "." + path}
	}
	return def, nil
}

// Paths returns the field paths in sorted order.
func (e EventDef) Paths() []string {
	paths := make([]string, 0, len(e.Fields))
	for p := range e.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// DiscoveredTable is the discovery result for one table.
type DiscoveredTable struct {
	Table  EventDataTable
	Events map[string]EventDef
}

// EventNames returns the discovered event names in sorted order.
func (t DiscoveredTable) EventNames() []string {
	names := make([]string, 0, len(t.Events))
	for n := range t.Events {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DiscoveredEventDataSource is an immutable discovery snapshot. A source is
// never mutated on re-discovery; a new snapshot with a higher Version replaces
// it in the registry.
type DiscoveredEventDataSource struct {
	ID           string
	SourceID     string
	Version      int
	DiscoveredAt time.Time
	Start        time.Time
	End          time.Time
	Tables       map[string]DiscoveredTable
}

// TableNames returns the discovered table names in sorted order.
func (d *DiscoveredEventDataSource) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for n := range d.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Event looks up an event of a table.
func (d *DiscoveredEventDataSource) Event(table, event string) (EventDef, error) {
	t, ok := d.Tables[table]
	if !ok {
		return EventDef{}, &NotFoundError{Kind: "table", Name: table}
	}
	def, ok := t.Events[event]
	if !ok {
		return EventDef{}, &NotFoundError{Kind: "event", Name: table + "/" + event}
	}
	return def, nil
}

// Resolve returns the def for (table, event, path). An empty path resolves to
// the event itself.
func (d *DiscoveredEventDataSource) Resolve(table, event, path string) (EventFieldDef, error) {
	def, err := d.Event(table, event)
	if err != nil {
		return EventFieldDef{}, err
	}
	if path == "" {
		return def.Ref(), nil
	}
	return def.Field(path)
}
