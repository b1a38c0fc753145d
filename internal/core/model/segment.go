package model

// AnyEvent is the wildcard event name matching every row of a table.
const AnyEvent = "*"

// Segment is a boolean condition over events: either a SimpleSegment or a
// ComplexSegment.
type Segment interface {
	segment()
}

// SimpleSegment filters on one event, optionally on one of its fields.
// Operator OpNone means the event occurred. Right is ignored for OpIsNull and
// OpIsNotNull and is a slice for OpAnyOf and OpNoneOf.
type SimpleSegment struct {
	Left     EventFieldDef
	Operator Operator
	Right    any
}

// ComplexSegment combines two segments.
type ComplexSegment struct {
	Left  Segment
	Op    BinaryOperator
	Right Segment
}

func (SimpleSegment) segment()  {}
func (ComplexSegment) segment() {}

// AndSegments joins two segments with AND.
func AndSegments(left, right Segment) ComplexSegment {
	return ComplexSegment{Left: left, Op: And, Right: right}
}

// OrSegments joins two segments with OR.
func OrSegments(left, right Segment) ComplexSegment {
	return ComplexSegment{Left: left, Op: Or, Right: right}
}

// SegmentTable returns the single table a segment reads from.
func SegmentTable(seg Segment) (EventDataTable, error) {
	var (
		table EventDataTable
		found bool
	)
	var walk func(s Segment) error
	walk = func(s Segment) error {
		switch v := s.(type) {
		case SimpleSegment:
			if !found {
				table, found = v.Left.Table, true
				return nil
			}
			if v.Left.Table.QualifiedName() != table.QualifiedName() {
				return NewValidationError("segment", "segment spans tables %s and %s", table.QualifiedName(), v.Left.Table.QualifiedName())
			}
			return nil
		case ComplexSegment:
			if v.Left == nil || v.Right == nil {
				return NewValidationError("segment", "complex segment needs both sides")
			}
			if err := walk(v.Left); err != nil {
				return err
			}
			return walk(v.Right)
		case nil:
			return NewValidationError("segment", "segment is required")
		}
		return NewValidationError("segment", "unknown segment type %T", s)
	}
	if err := walk(seg); err != nil {
		return EventDataTable{}, err
	}
	return table, nil
}
