package model

import "time"

// MetricConfig holds the settings shared by every metric kind.
type MetricConfig struct {
	Start     time.Time
	End       time.Time
	TimeGroup TimeGroup
	// GroupBy breaks results down by one field; nil for no breakdown.
	GroupBy *EventFieldDef
	// MaxGroupCount keeps only the top N groups; 0 keeps all.
	MaxGroupCount int
}

func (c MetricConfig) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return NewValidationError("config", "start and end are required")
	}
	if !c.Start.Before(c.End) {
		return NewValidationError("config", "start %s must be before end %s", c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
	}
	if c.TimeGroup < Total || c.TimeGroup > Year {
		return NewValidationError("config.time_group", "unknown time group %d", int(c.TimeGroup))
	}
	if c.MaxGroupCount < 0 {
		return NewValidationError("config.max_group_count", "must be >= 0")
	}
	if c.GroupBy != nil && !c.GroupBy.HasField() {
		return NewValidationError("config.group_by", "group by needs a field")
	}
	return nil
}

// Metric is an analytics question: Segmentation or Conversion.
type Metric interface {
	Settings() MetricConfig
	metric()
}

// Segmentation counts users and events matching a segment.
type Segmentation struct {
	Segment Segment
	Config  MetricConfig
}

// Conversion measures how many users go through ordered funnel steps, each
// step within Window of the previous one.
type Conversion struct {
	Steps  []Segment
	Window TimeWindow
	Config MetricConfig
}

func (m Segmentation) Settings() MetricConfig { return m.Config }
func (m Conversion) Settings() MetricConfig   { return m.Config }

func (Segmentation) metric() {}
func (Conversion) metric()   {}

func (m Segmentation) Validate() error {
	if m.Segment == nil {
		return NewValidationError("segment", "segment is required")
	}
	return m.Config.Validate()
}

func (m Conversion) Validate() error {
	if len(m.Steps) == 0 {
		return NewValidationError("steps", "conversion needs at least one step")
	}
	for _, step := range m.Steps {
		if step == nil {
			return NewValidationError("steps", "conversion step is nil")
		}
	}
	if err := m.Window.Validate(); err != nil {
		return err
	}
	return m.Config.Validate()
}
