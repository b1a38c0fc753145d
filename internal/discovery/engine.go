// Package discovery introspects event tables into schema snapshots: their
// fields, event names and bounded enumerations of field values.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/dialect"
)

const (
	DefaultFieldsPerQuery = 30
	DefaultConcurrency    = 4
)

// Introspector is the warehouse access discovery needs. *dialect.Adapter
// implements it.
type Introspector interface {
	ListFields(ctx context.Context, t model.EventDataTable) ([]model.Field, error)
	ListDistinctEventNames(ctx context.Context, t model.EventDataTable, start, end time.Time) ([]string, error)
	SampleFieldEnumValues(ctx context.Context, req dialect.EnumRequest) (map[string]map[string][]any, error)
	ListMapKeys(ctx context.Context, req dialect.MapKeysRequest) ([]string, error)
}

// Options tunes how hard discovery hits the warehouse.
type Options struct {
	FieldsPerQuery   int     // leaf fields enumerated per sub-query
	Concurrency      int     // tables discovered in parallel
	QueriesPerSecond float64 // 0 means unlimited
}

func (o Options) normalized() Options {
	if o.FieldsPerQuery <= 0 {
		o.FieldsPerQuery = DefaultFieldsPerQuery
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.QueriesPerSecond < 0 {
		o.QueriesPerSecond = 0
	}
	return o
}

// Stage is the step of a table's discovery a Progress reports.
type Stage string

const (
	StageStarted  Stage = "started"
	StageEvent    Stage = "event"
	StageFinished Stage = "finished"
	StageFailed   Stage = "failed"
)

// Progress is one discovery progress report.
type Progress struct {
	Table string
	Stage Stage
	Event string // set for StageEvent
	Done  int    // tables finished so far, failed ones included
	Total int
	Err   error // set for StageFailed
}

// ProgressFunc receives progress reports. Calls are serialized.
type ProgressFunc func(Progress)

// Engine runs discovery against one warehouse connection.
type Engine struct {
	introspector Introspector
	opts         Options
	limiter      *rate.Limiter
}

func NewEngine(introspector Introspector, opts Options) *Engine {
	opts = opts.normalized()
	limit := rate.Inf
	if opts.QueriesPerSecond > 0 {
		limit = rate.Limit(opts.QueriesPerSecond)
	}
	return &Engine{
		introspector: introspector,
		opts:         opts,
		limiter:      rate.NewLimiter(limit, 1),
	}
}

// Discover introspects the given tables of the source, or all of its tables
// when tables is empty, over [start, end).
//
// The returned snapshot is not yet published: ID and Version are left for the
// registry. When some tables fail the snapshot holds the others and the error
// is a *model.DiscoveryPartialFailure. Cancellation aborts the whole run.
func (e *Engine) Discover(
	ctx context.Context,
	source model.EventDataSource,
	tables []model.EventDataTable,
	start, end time.Time,
	progress ProgressFunc,
) (*model.DiscoveredEventDataSource, error) {
	if !start.Before(end) {
		return nil, model.NewValidationError("window", "start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if len(tables) == 0 {
		tables = source.Tables
	}

	snapshot := &model.DiscoveredEventDataSource{
		SourceID: source.ID,
		Start:    start,
		End:      end,
		Tables:   make(map[string]model.DiscoveredTable, len(tables)),
	}

	var (
		mu       sync.Mutex
		done     int
		failures = make(map[string]error)
	)
	report := func(p Progress) {
		if progress == nil {
			return
		}
		p.Total = len(tables)
		progress(p)
	}

	started := time.Now()
	slog.Info("[Discovery] Starting",
		"source_id", source.ID,
		"tables", len(tables),
		"concurrency", e.opts.Concurrency,
		"start", start,
		"end", end,
	)

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for _, t := range tables {
		g.Go(func() error {
			mu.Lock()
			report(Progress{Table: t.Name, Stage: StageStarted, Done: done})
			mu.Unlock()

			run := &tableRun{
				engine:   e,
				sourceID: source.ID,
				table:    t.WithDefaults(),
				start:    start,
				end:      end,
				onEvent: func(event string) {
					mu.Lock()
					defer mu.Unlock()
					report(Progress{Table: t.Name, Stage: StageEvent, Event: event, Done: done})
				},
			}
			discovered, err := run.discover(ctx)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				failures[t.Name] = err
				slog.Error("[Discovery] Table failed",
					"source_id", source.ID,
					"table", t.QualifiedName(),
					"error", err,
				)
				report(Progress{Table: t.Name, Stage: StageFailed, Done: done, Err: err})
				return nil
			}
			snapshot.Tables[t.Name] = discovered
			report(Progress{Table: t.Name, Stage: StageFinished, Done: done})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		slog.Warn("[Discovery] Cancelled", "source_id", source.ID, "error", err)
		return nil, err
	}

	slog.Info("[Discovery] Completed",
		"source_id", source.ID,
		"tables", len(snapshot.Tables),
		"failed", len(failures),
		"duration", time.Since(started),
	)
	if len(failures) > 0 {
		return snapshot, &model.DiscoveryPartialFailure{Failures: failures}
	}
	return snapshot, nil
}

func (e *Engine) wait(ctx context.Context) error {
	return e.limiter.Wait(ctx)
}

// tableRun holds the state of discovering one table.
type tableRun struct {
	engine   *Engine
	sourceID string
	table    model.EventDataTable
	start    time.Time
	end      time.Time
	onEvent  func(event string)

	// values is event name -> field path -> enumerated values. A present nil
	// list means the field hit the cardinality limit.
	values map[string]map[string][]any
}

func (r *tableRun) discover(ctx context.Context) (model.DiscoveredTable, error) {
	t := r.table
	if err := t.Validate(); err != nil {
		return model.DiscoveredTable{}, err
	}
	in := r.engine.introspector
	r.values = make(map[string]map[string][]any)

	if err := r.engine.wait(ctx); err != nil {
		return model.DiscoveredTable{}, err
	}
	columns, err := in.ListFields(ctx, t)
	if err != nil {
		return model.DiscoveredTable{}, err
	}

	var generic, specific, genericMaps, specificMaps []model.Field
	for _, col := range columns {
		if t.IsReserved(col.Name) {
			continue
		}
		for _, leaf := range col.Leaves() {
			path := leaf.Path()
			if t.IsIgnored(path) {
				continue
			}
			eventSpecific := t.IsEventSpecific(path)
			switch {
			case leaf.Type == model.TypeMap && eventSpecific:
				specificMaps = append(specificMaps, leaf)
			case leaf.Type == model.TypeMap:
				genericMaps = append(genericMaps, leaf)
			case eventSpecific:
				specific = append(specific, leaf)
			default:
				generic = append(generic, leaf)
			}
		}
	}

	for _, m := range genericMaps {
		subFields, err := r.mapFields(ctx, m, "")
		if err != nil {
			return model.DiscoveredTable{}, err
		}
		generic = append(generic, subFields...)
	}

	if err := r.engine.wait(ctx); err != nil {
		return model.DiscoveredTable{}, err
	}
	events, err := in.ListDistinctEventNames(ctx, t, r.start, r.end)
	if err != nil {
		return model.DiscoveredTable{}, err
	}

	if err := r.enumerate(ctx, generic, dialect.EnumRequest{}); err != nil {
		return model.DiscoveredTable{}, err
	}

	eventFields := make(map[string][]model.Field, len(events))
	if len(specific) == 0 && len(specificMaps) == 0 {
		if err := r.enumerate(ctx, generic, dialect.EnumRequest{GroupByEvent: true}); err != nil {
			return model.DiscoveredTable{}, err
		}
		for _, event := range events {
			eventFields[event] = generic
			r.onEvent(event)
		}
	} else {
		for _, event := range events {
			fields := append(append([]model.Field{}, generic...), specific...)
			for _, m := range specificMaps {
				subFields, err := r.mapFields(ctx, m, event)
				if err != nil {
					return model.DiscoveredTable{}, err
				}
				fields = append(fields, subFields...)
			}
			if err := r.enumerate(ctx, fields, dialect.EnumRequest{EventName: event}); err != nil {
				return model.DiscoveredTable{}, err
			}
			eventFields[event] = fields
			r.onEvent(event)
		}
	}

	discovered := model.DiscoveredTable{
		Table:  t,
		Events: make(map[string]model.EventDef, len(events)+1),
	}
	discovered.Events[model.AnyEvent] = r.eventDef(model.AnyEvent, generic)
	for _, event := range events {
		discovered.Events[event] = r.eventDef(event, eventFields[event])
	}

	slog.Info("[Discovery] Table discovered",
		"source_id", r.sourceID,
		"table", t.QualifiedName(),
		"events", len(events),
		"generic_fields", len(generic),
		"event_specific_fields", len(specific)+len(specificMaps),
	)
	return discovered, nil
}

// mapFields expands a MAP field into one field per discovered key. A dialect
// that cannot list map keys keeps the map as a plain field.
func (r *tableRun) mapFields(ctx context.Context, m model.Field, event string) ([]model.Field, error) {
	if err := r.engine.wait(ctx); err != nil {
		return nil, err
	}
	keys, err := r.engine.introspector.ListMapKeys(ctx, dialect.MapKeysRequest{
		Table:     r.table,
		Field:     m,
		EventName: event,
		Start:     r.start,
		End:       r.end,
	})
	if errors.Is(err, model.ErrUnsupported) {
		slog.Warn("[Discovery] Map keys not supported, keeping map field without keys",
			"table", r.table.QualifiedName(),
			"field", m.Path(),
			"error", err,
		)
		return []model.Field{m}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]model.Field, 0, len(keys))
	for _, k := range keys {
		sub := m.MapKey(k)
		if r.table.IsIgnored(sub.Path()) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// enumerate samples the enumerable fields in batches and merges the results.
func (r *tableRun) enumerate(ctx context.Context, fields []model.Field, req dialect.EnumRequest) error {
	var enumerable []model.Field
	for _, f := range fields {
		if f.Enumerable() {
			enumerable = append(enumerable, f)
		}
	}
	size := r.engine.opts.FieldsPerQuery
	for lo := 0; lo < len(enumerable); lo += size {
		hi := min(lo+size, len(enumerable))
		if err := r.engine.wait(ctx); err != nil {
			return err
		}
		req.Table = r.table
		req.Fields = enumerable[lo:hi]
		req.Start, req.End = r.start, r.end
		got, err := r.engine.introspector.SampleFieldEnumValues(ctx, req)
		if err != nil {
			return err
		}
		for event, byPath := range got {
			if r.values[event] == nil {
				r.values[event] = make(map[string][]any, len(byPath))
			}
			for path, values := range byPath {
				r.values[event][path] = values
			}
		}
	}
	return nil
}

func (r *tableRun) eventDef(event string, fields []model.Field) model.EventDef {
	def := model.EventDef{
		SourceID:  r.sourceID,
		Table:     r.table,
		EventName: event,
		Fields:    make(map[string]model.EventFieldDef, len(fields)),
	}
	for _, f := range fields {
		path := f.Path()
		values, sampled := r.values[event][path]
		// event-specific fields only belong to events that actually set them
		if sampled && values != nil && len(values) == 0 && r.table.IsEventSpecific(path) {
			continue
		}
		def.Fields[path] = model.EventFieldDef{
			SourceID:  r.sourceID,
			Table:     r.table,
			EventName: event,
			Field:     f,
			Enums:     values,
		}
	}
	return def
}
