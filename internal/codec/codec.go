// Package codec converts metrics to and from a compact tagged map.
//
// Fields are referenced by table, event name and dotted path, never embedded,
// so a payload written against one snapshot decodes against any later
// snapshot that still has the same paths.
//
//	{"seg": <segment>, "co": <config>}
//	{"conv": {"segs": [<segment>...], "cw": {"v": 1, "tg": "DAY"}}, "co": <config>}
//
// A simple segment is {"l": <ref>, "op": "EQ", "r": <value>}, a complex one
// {"l": <segment>, "bop": "AND", "r": <segment>}, and a ref
// {"tb": <table>, "en": <event>, "f": <path>}.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
)

const (
	keySegmentation  = "seg"
	keyConversion    = "conv"
	keyConfig        = "co"
	keySteps         = "segs"
	keyWindow        = "cw"
	keyWindowValue   = "v"
	keyTimeGroup     = "tg"
	keyStart         = "sd"
	keyEnd           = "ed"
	keyGroupBy       = "gb"
	keyMaxGroupCount = "mgc"
	keyLeft          = "l"
	keyRight         = "r"
	keyOperator      = "op"
	keyBinaryOp      = "bop"
	keyTable         = "tb"
	keyEvent         = "en"
	keyField         = "f"
)

const timeLayout = time.RFC3339Nano

// Encode converts a metric to its tagged form with absent values pruned.
func Encode(m model.Metric) (map[string]any, error) {
	out := make(map[string]any, 2)
	switch v := m.(type) {
	case model.Segmentation:
		seg, err := encodeSegment(v.Segment, keySegmentation)
		if err != nil {
			return nil, err
		}
		out[keySegmentation] = seg
	case *model.Segmentation:
		if v == nil {
			return nil, &model.SerializationError{Message: "metric is nil"}
		}
		return Encode(*v)
	case model.Conversion:
		steps := make([]any, len(v.Steps))
		for i, step := range v.Steps {
			seg, err := encodeSegment(step, fmt.Sprintf("%s.%s[%d]", keyConversion, keySteps, i))
			if err != nil {
				return nil, err
			}
			steps[i] = seg
		}
		out[keyConversion] = map[string]any{
			keySteps:  steps,
			keyWindow: map[string]any{keyWindowValue: v.Window.Value, keyTimeGroup: v.Window.Period.String()},
		}
	case *model.Conversion:
		if v == nil {
			return nil, &model.SerializationError{Message: "metric is nil"}
		}
		return Encode(*v)
	default:
		return nil, &model.SerializationError{Message: fmt.Sprintf("unsupported metric %T", m)}
	}
	out[keyConfig] = encodeConfig(m.Settings())
	return prune(out).(map[string]any), nil
}

func encodeConfig(c model.MetricConfig) map[string]any {
	out := map[string]any{
		keyTimeGroup: c.TimeGroup.String(),
	}
	if !c.Start.IsZero() {
		out[keyStart] = c.Start.Format(timeLayout)
	}
	if !c.End.IsZero() {
		out[keyEnd] = c.End.Format(timeLayout)
	}
	if c.GroupBy != nil {
		out[keyGroupBy] = encodeRef(*c.GroupBy)
	}
	if c.MaxGroupCount > 0 {
		out[keyMaxGroupCount] = c.MaxGroupCount
	}
	return out
}

func encodeRef(d model.EventFieldDef) map[string]any {
	out := map[string]any{keyTable: d.Table.Name, keyEvent: d.EventName}
	if d.HasField() {
		out[keyField] = d.Path()
	}
	return out
}

func encodeSegment(seg model.Segment, path string) (map[string]any, error) {
	switch s := seg.(type) {
	case model.SimpleSegment:
		out := map[string]any{keyLeft: encodeRef(s.Left)}
		if s.Operator != model.OpNone {
			out[keyOperator] = s.Operator.String()
		}
		if !s.Operator.IgnoresRight() {
			out[keyRight] = encodeValue(s.Right)
		}
		return out, nil
	case model.ComplexSegment:
		left, err := encodeSegment(s.Left, path+"."+keyLeft)
		if err != nil {
			return nil, err
		}
		right, err := encodeSegment(s.Right, path+"."+keyRight)
		if err != nil {
			return nil, err
		}
		return map[string]any{keyLeft: left, keyBinaryOp: s.Op.String(), keyRight: right}, nil
	}
	return nil, &model.SerializationError{Path: path, Message: fmt.Sprintf("unsupported segment %T", seg)}
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format(timeLayout)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = encodeValue(item)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = encodeValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// prune drops nil values and maps left empty, recursively.
func prune(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			item = prune(item)
			if item == nil {
				continue
			}
			if m, ok := item.(map[string]any); ok && len(m) == 0 {
				continue
			}
			out[k] = item
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = prune(item)
		}
		return out
	}
	return v
}

// Decode rebuilds a metric from its tagged form, resolving every reference
// against the snapshot. A reference that no longer resolves fails with an
// error matching both model.ErrSerialize and model.ErrNotFound.
func Decode(payload map[string]any, snapshot *model.DiscoveredEventDataSource) (model.Metric, error) {
	if snapshot == nil {
		return nil, &model.SerializationError{Message: "no schema snapshot to resolve against"}
	}
	_, hasSeg := payload[keySegmentation]
	_, hasConv := payload[keyConversion]
	if hasSeg == hasConv {
		return nil, &model.SerializationError{Message: fmt.Sprintf("payload needs exactly one of %q and %q", keySegmentation, keyConversion)}
	}
	d := &decoder{snapshot: snapshot}

	cfgMap, err := d.object(payload, keyConfig, keyConfig)
	if err != nil {
		return nil, err
	}
	cfg, err := d.config(cfgMap)
	if err != nil {
		return nil, err
	}

	if hasSeg {
		segMap, err := d.object(payload, keySegmentation, keySegmentation)
		if err != nil {
			return nil, err
		}
		seg, err := d.segment(segMap, keySegmentation)
		if err != nil {
			return nil, err
		}
		return model.Segmentation{Segment: seg, Config: cfg}, nil
	}

	conv, err := d.object(payload, keyConversion, keyConversion)
	if err != nil {
		return nil, err
	}
	rawSteps, ok := conv[keySteps].([]any)
	if !ok {
		return nil, &model.SerializationError{Path: keyConversion + "." + keySteps, Message: "must be a list"}
	}
	steps := make([]model.Segment, len(rawSteps))
	for i, raw := range rawSteps {
		path := fmt.Sprintf("%s.%s[%d]", keyConversion, keySteps, i)
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, &model.SerializationError{Path: path, Message: "must be an object"}
		}
		if steps[i], err = d.segment(m, path); err != nil {
			return nil, err
		}
	}
	windowMap, err := d.object(conv, keyWindow, keyConversion+"."+keyWindow)
	if err != nil {
		return nil, err
	}
	window, err := d.window(windowMap, keyConversion+"."+keyWindow)
	if err != nil {
		return nil, err
	}
	return model.Conversion{Steps: steps, Window: window, Config: cfg}, nil
}

type decoder struct {
	snapshot *model.DiscoveredEventDataSource
}

func (d *decoder) object(parent map[string]any, key, path string) (map[string]any, error) {
	raw, ok := parent[key]
	if !ok {
		return nil, &model.SerializationError{Path: path, Message: "is required"}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &model.SerializationError{Path: path, Message: fmt.Sprintf("must be an object, got %T", raw)}
	}
	return m, nil
}

func (d *decoder) config(m map[string]any) (model.MetricConfig, error) {
	var cfg model.MetricConfig
	var err error
	if cfg.Start, err = d.time(m, keyStart, keyConfig+"."+keyStart); err != nil {
		return cfg, err
	}
	if cfg.End, err = d.time(m, keyEnd, keyConfig+"."+keyEnd); err != nil {
		return cfg, err
	}
	if raw, ok := m[keyTimeGroup]; ok {
		if cfg.TimeGroup, err = timeGroup(raw, keyConfig+"."+keyTimeGroup); err != nil {
			return cfg, err
		}
	}
	if raw, ok := m[keyMaxGroupCount]; ok {
		n, err := integer(raw, keyConfig+"."+keyMaxGroupCount)
		if err != nil {
			return cfg, err
		}
		cfg.MaxGroupCount = n
	}
	if _, ok := m[keyGroupBy]; ok {
		refMap, err := d.object(m, keyGroupBy, keyConfig+"."+keyGroupBy)
		if err != nil {
			return cfg, err
		}
		ref, err := d.ref(refMap, keyConfig+"."+keyGroupBy)
		if err != nil {
			return cfg, err
		}
		cfg.GroupBy = &ref
	}
	return cfg, nil
}

func (d *decoder) window(m map[string]any, path string) (model.TimeWindow, error) {
	raw, ok := m[keyWindowValue]
	if !ok {
		return model.TimeWindow{}, &model.SerializationError{Path: path + "." + keyWindowValue, Message: "is required"}
	}
	value, err := integer(raw, path+"."+keyWindowValue)
	if err != nil {
		return model.TimeWindow{}, err
	}
	period, err := timeGroup(m[keyTimeGroup], path+"."+keyTimeGroup)
	if err != nil {
		return model.TimeWindow{}, err
	}
	return model.TimeWindow{Value: value, Period: period}, nil
}

func (d *decoder) time(m map[string]any, key, path string) (time.Time, error) {
	raw, ok := m[key]
	if !ok {
		return time.Time{}, nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, &model.SerializationError{Path: path, Message: fmt.Sprintf("must be a timestamp string, got %T", raw)}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, &model.SerializationError{Path: path, Err: err}
	}
	return t, nil
}

func (d *decoder) ref(m map[string]any, path string) (model.EventFieldDef, error) {
	table, _ := m[keyTable].(string)
	event, _ := m[keyEvent].(string)
	if table == "" || event == "" {
		return model.EventFieldDef{}, &model.SerializationError{Path: path, Message: "reference needs a table and an event name"}
	}
	field, _ := m[keyField].(string)
	def, err := d.snapshot.Resolve(table, event, field)
	if err != nil {
		return model.EventFieldDef{}, &model.SerializationError{Path: path, Message: "reference does not resolve against the current schema", Err: err}
	}
	return def, nil
}

func (d *decoder) segment(m map[string]any, path string) (model.Segment, error) {
	if rawOp, ok := m[keyBinaryOp]; ok {
		name, _ := rawOp.(string)
		op, err := model.ParseBinaryOperator(name)
		if err != nil {
			return nil, &model.SerializationError{Path: path + "." + keyBinaryOp, Err: err}
		}
		left, err := d.object(m, keyLeft, path+"."+keyLeft)
		if err != nil {
			return nil, err
		}
		right, err := d.object(m, keyRight, path+"."+keyRight)
		if err != nil {
			return nil, err
		}
		l, err := d.segment(left, path+"."+keyLeft)
		if err != nil {
			return nil, err
		}
		r, err := d.segment(right, path+"."+keyRight)
		if err != nil {
			return nil, err
		}
		return model.ComplexSegment{Left: l, Op: op, Right: r}, nil
	}

	refMap, err := d.object(m, keyLeft, path+"."+keyLeft)
	if err != nil {
		return nil, err
	}
	left, err := d.ref(refMap, path+"."+keyLeft)
	if err != nil {
		return nil, err
	}
	seg := model.SimpleSegment{Left: left}
	if rawOp, ok := m[keyOperator]; ok {
		name, _ := rawOp.(string)
		if seg.Operator, err = model.ParseOperator(name); err != nil {
			return nil, &model.SerializationError{Path: path + "." + keyOperator, Err: err}
		}
	}
	if seg.Operator.IgnoresRight() {
		return seg, nil
	}
	raw, ok := m[keyRight]
	if !ok {
		return nil, &model.SerializationError{Path: path + "." + keyRight, Message: fmt.Sprintf("%s needs a value", seg.Operator)}
	}
	if seg.Right, err = value(raw, left.Field.Type, path+"."+keyRight); err != nil {
		return nil, err
	}
	return seg, nil
}

// value converts a decoded JSON value back to the Go value the compiler
// expects: json.Number to int64 or float64, DATETIME strings to time.Time.
func value(raw any, typ model.DataType, path string) (any, error) {
	switch x := raw.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			v, err := value(item, typ, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, &model.SerializationError{Path: path, Err: err}
		}
		return f, nil
	case string:
		if typ == model.TypeDatetime {
			t, err := time.Parse(timeLayout, x)
			if err != nil {
				return nil, &model.SerializationError{Path: path, Err: err}
			}
			return t, nil
		}
		return x, nil
	}
	return raw, nil
}

func timeGroup(raw any, path string) (model.TimeGroup, error) {
	name, ok := raw.(string)
	if !ok {
		return 0, &model.SerializationError{Path: path, Message: fmt.Sprintf("must be a time group name, got %T", raw)}
	}
	g, err := model.ParseTimeGroup(name)
	if err != nil {
		return 0, &model.SerializationError{Path: path, Err: err}
	}
	return g, nil
}

func integer(raw any, path string) (int, error) {
	switch x := raw.(type) {
	case json.Number:
		n, err := strconv.Atoi(x.String())
		if err != nil {
			return 0, &model.SerializationError{Path: path, Err: err}
		}
		return n, nil
	case float64:
		if x == math.Trunc(x) {
			return int(x), nil
		}
	case int:
		return x, nil
	case int64:
		return int(x), nil
	}
	return 0, &model.SerializationError{Path: path, Message: fmt.Sprintf("must be an integer, got %v", raw)}
}

// Marshal encodes a metric as JSON.
func Marshal(m model.Metric) ([]byte, error) {
	payload, err := Encode(m)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &model.SerializationError{Message: "failed to marshal metric", Err: err}
	}
	return data, nil
}

// Unmarshal decodes a JSON metric against the snapshot. Numbers keep their
// integer form.
func Unmarshal(data []byte, snapshot *model.DiscoveredEventDataSource) (model.Metric, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, &model.SerializationError{Message: "malformed metric payload", Err: err}
	}
	return Decode(payload, snapshot)
}
