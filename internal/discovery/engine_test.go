package discovery

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/core/warehouse"
	"github.com/aevon-lab/insight/internal/dialect"
)

var (
	windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

func openSQLite(t *testing.T, stmts ...string) *dialect.Adapter {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return dialect.NewAdapter(dialect.NewSQLite(), warehouse.NewSQLConnection(db, "sqlite3"))
}

func TestEngine_DiscoverSQLite(t *testing.T) {
	adapter := openSQLite(t,
		`CREATE TABLE events (user_id TEXT, ts DATETIME, event TEXT, plan TEXT, amount REAL, note TEXT)`,
		`INSERT INTO events VALUES
			('a', '2024-03-02 10:00:00', 'view', 'free', NULL, 'x'),
			('a', '2024-03-02 11:00:00', 'cart', 'free', 3, 'y'),
			('b', '2024-03-03 09:00:00', 'view', 'pro', NULL, NULL),
			('c', '2024-03-04 09:00:00', 'view', 'team', NULL, NULL),
			('b', '2024-03-05 09:00:00', 'cart', 'pro', 5, NULL),
			('d', '2024-02-01 09:00:00', 'refund', 'free', 1, NULL)`,
	)
	source := model.EventDataSource{
		ID: "web",
		Tables: []model.EventDataTable{{
			Name:                "events",
			UserIDField:         "user_id",
			EventTimeField:      "ts",
			EventNameField:      "event",
			IgnoredFields:       []string{"note"},
			EventSpecificFields: []string{"amount"},
			MaxEnumCardinality:  3,
		}},
	}

	snapshot, err := NewEngine(adapter, Options{}).Discover(context.Background(), source, nil, windowStart, windowEnd, nil)
	require.NoError(t, err)
	assert.Equal(t, "web", snapshot.SourceID)
	assert.Empty(t, snapshot.ID, "ids are assigned on publish")

	table := snapshot.Tables["events"]
	assert.Equal(t, []string{model.AnyEvent, "cart", "view"}, table.EventNames())

	wildcard := table.Events[model.AnyEvent]
	assert.Equal(t, []string{"plan"}, wildcard.Paths())
	assert.Nil(t, wildcard.Fields["plan"].Enums, "3 distinct plans reach the limit of 3")

	cart := table.Events["cart"]
	assert.Equal(t, []string{"amount", "plan"}, cart.Paths())
	assert.Equal(t, []any{"free", "pro"}, cart.Fields["plan"].Enums)
	assert.Equal(t, []any{3.0, 5.0}, cart.Fields["amount"].Enums)
	assert.Equal(t, "web", cart.Fields["plan"].SourceID)

	view := table.Events["view"]
	assert.Equal(t, []string{"plan"}, view.Paths(), "amount is never set on view")
	assert.Nil(t, view.Fields["plan"].Enums)

	def, err := snapshot.Resolve("events", "cart", "plan")
	require.NoError(t, err)
	assert.Equal(t, "cart", def.EventName)
}

func TestEngine_CardinalityLimitYieldsAbsentEnums(t *testing.T) {
	adapter := openSQLite(t,
		`CREATE TABLE events (user_id TEXT, ts DATETIME, event TEXT, plan TEXT)`,
		`INSERT INTO events VALUES
			('a', '2024-03-02 10:00:00', 'view', 'free'),
			('b', '2024-03-02 11:00:00', 'view', 'pro'),
			('c', '2024-03-03 09:00:00', 'view', 'team')`,
	)
	source := model.EventDataSource{ID: "web", Tables: []model.EventDataTable{{
		Name:               "events",
		UserIDField:        "user_id",
		EventTimeField:     "ts",
		EventNameField:     "event",
		MaxEnumCardinality: 2,
	}}}

	snapshot, err := NewEngine(adapter, Options{}).Discover(context.Background(), source, nil, windowStart, windowEnd, nil)
	require.NoError(t, err)

	plan, err := snapshot.Resolve("events", "view", "plan")
	require.NoError(t, err)
	assert.Nil(t, plan.Enums)
}

type fakeIntrospector struct {
	mu      sync.Mutex
	fields  map[string][]model.Field
	events  []string
	mapKeys map[string][]string // missing entry means unsupported
	batches []int
}

func (f *fakeIntrospector) ListFields(_ context.Context, t model.EventDataTable) ([]model.Field, error) {
	fields, ok := f.fields[t.Name]
	if !ok {
		return nil, model.NewMissingColumnError(t.QualifiedName(), t.UserIDField)
	}
	return fields, nil
}

func (f *fakeIntrospector) ListDistinctEventNames(context.Context, model.EventDataTable, time.Time, time.Time) ([]string, error) {
	return f.events, nil
}

func (f *fakeIntrospector) SampleFieldEnumValues(_ context.Context, req dialect.EnumRequest) (map[string]map[string][]any, error) {
	f.mu.Lock()
	f.batches = append(f.batches, len(req.Fields))
	f.mu.Unlock()

	keys := []string{model.AnyEvent}
	switch {
	case req.GroupByEvent:
		keys = f.events
	case req.EventName != "":
		keys = []string{req.EventName}
	}
	out := make(map[string]map[string][]any, len(keys))
	for _, k := range keys {
		out[k] = make(map[string][]any, len(req.Fields))
		for _, field := range req.Fields {
			out[k][field.Path()] = []any{k + ":" + field.Path()}
		}
	}
	return out, nil
}

func (f *fakeIntrospector) ListMapKeys(_ context.Context, req dialect.MapKeysRequest) ([]string, error) {
	keys, ok := f.mapKeys[req.Field.Path()]
	if !ok {
		return nil, &model.UnsupportedFeatureError{Dialect: "fake", Feature: "map keys"}
	}
	return keys, nil
}

func str(name string) model.Field {
	return model.Column(name, model.Field{Type: model.TypeString})
}

func TestEngine_BatchesFieldsPerQuery(t *testing.T) {
	fake := &fakeIntrospector{
		fields: map[string][]model.Field{
			"events": {str("user_id"), str("ts"), str("event"), str("a"), str("b"), str("c"), str("d"), str("e")},
		},
		events: []string{"click", "view"},
	}
	source := model.EventDataSource{ID: "web", Tables: []model.EventDataTable{
		{Name: "events", UserIDField: "user_id", EventTimeField: "ts", EventNameField: "event"},
	}}

	snapshot, err := NewEngine(fake, Options{FieldsPerQuery: 2}).Discover(context.Background(), source, nil, windowStart, windowEnd, nil)
	require.NoError(t, err)

	// wildcard pass, then one grouped pass
	assert.Equal(t, []int{2, 2, 1, 2, 2, 1}, fake.batches)

	view := snapshot.Tables["events"].Events["view"]
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, view.Paths(), "structural columns are never fields")
	assert.Equal(t, []any{"view:c"}, view.Fields["c"].Enums)
	assert.Equal(t, []any{"*:c"}, snapshot.Tables["events"].Events[model.AnyEvent].Fields["c"].Enums)
}

func TestEngine_MapFields(t *testing.T) {
	fake := &fakeIntrospector{
		fields: map[string][]model.Field{
			"events": {
				str("user_id"), str("ts"), str("event"),
				model.Column("props", model.Field{Type: model.TypeMap, ValueType: model.TypeString}),
				model.Column("attrs", model.Field{Type: model.TypeMap, ValueType: model.TypeNumber}),
			},
		},
		events:  []string{"view"},
		mapKeys: map[string][]string{"props": {"color", "size", "secret"}},
	}
	source := model.EventDataSource{ID: "web", Tables: []model.EventDataTable{{
		Name:           "events",
		UserIDField:    "user_id",
		EventTimeField: "ts",
		EventNameField: "event",
		IgnoredFields:  []string{"props.secret"},
	}}}

	snapshot, err := NewEngine(fake, Options{}).Discover(context.Background(), source, nil, windowStart, windowEnd, nil)
	require.NoError(t, err)

	view := snapshot.Tables["events"].Events["view"]
	assert.Equal(t, []string{"attrs", "props.color", "props.size"}, view.Paths())
	assert.Nil(t, view.Fields["attrs"].Enums, "maps without keys are not enumerated")
	assert.Equal(t, []any{"view:props.color"}, view.Fields["props.color"].Enums)
	assert.Equal(t, "props", view.Fields["props.color"].Field.ColumnName())
}

func TestEngine_PartialFailure(t *testing.T) {
	fake := &fakeIntrospector{
		fields: map[string][]model.Field{"events": {str("user_id"), str("ts"), str("event"), str("plan")}},
		events: []string{"view"},
	}
	source := model.EventDataSource{ID: "web", Tables: []model.EventDataTable{
		{Name: "events", UserIDField: "user_id", EventTimeField: "ts", EventNameField: "event"},
		{Name: "broken", UserIDField: "user_id", EventTimeField: "ts", EventNameField: "event"},
		{Name: "invalid", UserIDField: "user_id", EventTimeField: "ts"},
	}}

	var progress []Progress
	snapshot, err := NewEngine(fake, Options{Concurrency: 2}).Discover(context.Background(), source, nil, windowStart, windowEnd,
		func(p Progress) { progress = append(progress, p) })

	var partial *model.DiscoveryPartialFailure
	require.ErrorAs(t, err, &partial)
	require.NotNil(t, snapshot)
	assert.Equal(t, []string{"events"}, snapshot.TableNames())
	assert.Len(t, partial.Failures, 2)
	assert.ErrorIs(t, partial.Failures["broken"], model.ErrSchema)
	assert.ErrorIs(t, partial.Failures["invalid"], model.ErrValidation)
	assert.ErrorIs(t, err, model.ErrSchema)

	counts := make(map[Stage]int)
	for _, p := range progress {
		counts[p.Stage]++
		assert.Equal(t, 3, p.Total)
	}
	assert.Equal(t, 3, counts[StageStarted])
	assert.Equal(t, 1, counts[StageFinished])
	assert.Equal(t, 2, counts[StageFailed])
	assert.Equal(t, 1, counts[StageEvent])
	assert.Equal(t, 3, progress[len(progress)-1].Done)
}

func TestEngine_SelectedTables(t *testing.T) {
	fake := &fakeIntrospector{
		fields: map[string][]model.Field{"events": {str("user_id"), str("ts"), str("event")}},
		events: []string{"view"},
	}
	events := model.EventDataTable{Name: "events", UserIDField: "user_id", EventTimeField: "ts", EventNameField: "event"}
	source := model.EventDataSource{ID: "web", Tables: []model.EventDataTable{
		events,
		{Name: "broken", UserIDField: "user_id", EventTimeField: "ts", EventNameField: "event"},
	}}

	snapshot, err := NewEngine(fake, Options{}).Discover(context.Background(), source, []model.EventDataTable{events}, windowStart, windowEnd, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"events"}, snapshot.TableNames())
}

func TestEngine_Cancelled(t *testing.T) {
	fake := &fakeIntrospector{fields: map[string][]model.Field{}}
	source := model.EventDataSource{ID: "web", Tables: []model.EventDataTable{
		{Name: "events", UserIDField: "user_id", EventTimeField: "ts", EventNameField: "event"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snapshot, err := NewEngine(fake, Options{}).Discover(ctx, source, nil, windowStart, windowEnd, nil)
	assert.Nil(t, snapshot)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_InvalidWindow(t *testing.T) {
	_, err := NewEngine(&fakeIntrospector{}, Options{}).Discover(context.Background(), model.EventDataSource{ID: "web"}, nil, windowEnd, windowStart, nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}
