package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/core/warehouse"
	"github.com/aevon-lab/insight/internal/dialect"
)

var (
	start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	t0    = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
)

var events = model.EventDataTable{
	Name:           "events",
	UserIDField:    "user_id",
	EventTimeField: "ts",
	EventNameField: "event",
}

func occurred(event string) model.SimpleSegment {
	return model.SimpleSegment{Left: model.EventFieldDef{Table: events, EventName: event}}
}

func field(event, name string, typ model.DataType) model.EventFieldDef {
	return model.EventFieldDef{Table: events, EventName: event, Field: model.Column(name, model.Field{Type: typ})}
}

func config(g model.TimeGroup) model.MetricConfig {
	return model.MetricConfig{Start: start, End: end, TimeGroup: g}
}

func hour(n int) model.TimeWindow {
	return model.TimeWindow{Value: n, Period: model.Hour}
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRender_Golden(t *testing.T) {
	country := field("checkout", "country", model.TypeString)
	tests := []struct {
		name    string
		dialect dialect.Dialect
		metric  model.Metric
	}{
		{
			name:    "postgres_segmentation_day_grouped",
			dialect: dialect.NewPostgres(),
			metric: model.Segmentation{
				Segment: field("checkout", "plan", model.TypeString).AnyOf("pro", "team"),
				Config:  model.MetricConfig{Start: start, End: end, TimeGroup: model.Day, GroupBy: &country},
			},
		},
		{
			name:    "sqlite_conversion_three_steps_week",
			dialect: dialect.NewSQLite(),
			metric: model.Conversion{
				Steps: []model.Segment{
					occurred("view"),
					field("cart", "plan", model.TypeString).Eq("pro"),
					occurred("checkout"),
				},
				Window: model.TimeWindow{Value: 1, Period: model.Day},
				Config: config(model.Week),
			},
		},
		{
			name:    "mysql_segmentation_named_group_by",
			dialect: dialect.NewMySQL(),
			metric: model.Segmentation{
				Segment: model.OrSegments(occurred("view"), field("checkout", "amount", model.TypeNumber).GtEq(10)),
				Config: model.MetricConfig{Start: start, End: end, TimeGroup: model.Month,
					GroupBy: &model.EventFieldDef{Table: events, EventName: "view", Field: model.Column("plan", model.Field{Type: model.TypeString})}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewBuilder(tt.dialect).Compile(tt.metric)
			require.NoError(t, err)
			newGoldie(t).Assert(t, tt.name, []byte(q.Render()+"\n"))
		})
	}
}

func TestSQL_BindsInRenderOrder(t *testing.T) {
	m := model.Conversion{
		Steps:  []model.Segment{occurred("view"), occurred("cart")},
		Window: hour(1),
		Config: config(model.Total),
	}
	q, err := NewBuilder(dialect.NewPostgres()).Compile(m)
	require.NoError(t, err)

	sql, args := q.SQL()
	assert.Contains(t, sql, `AND (s2."event" = $1))`)
	assert.Contains(t, sql, `WHERE ((s1."event" = $2) AND ((s1."ts" >= $3) AND (s1."ts" < $4)))`)
	assert.Equal(t, []any{"cart", "view", start, end}, args)
	assert.NotContains(t, sql, "GROUP BY")

	assert.Equal(t, []string{
		"datetime", "group", "conversion_rate",
		"unique_user_count_1", "event_count_1",
		"unique_user_count_2", "event_count_2",
	}, q.Columns())
	assert.Equal(t, 2, q.Steps())
	assert.Equal(t, KindConversion, q.Kind())
}

func TestCompile_GroupByReadsFirstStep(t *testing.T) {
	plan := field("cart", "plan", model.TypeString)
	m := model.Conversion{
		Steps:  []model.Segment{occurred("view"), plan.Eq("pro")},
		Window: hour(2),
		Config: model.MetricConfig{Start: start, End: end, TimeGroup: model.Day, GroupBy: &plan},
	}
	q, err := NewBuilder(dialect.NewTrino()).Compile(m)
	require.NoError(t, err)

	sql := q.Render()
	assert.Contains(t, sql, `s1."plan" AS "group"`)
	assert.NotContains(t, sql, `s2."plan" AS "group"`)
	assert.Contains(t, sql, `DATE_TRUNC('day', s1."ts") AS "datetime"`)
	assert.Contains(t, sql, `(s2."ts" <= date_add('hour', 2, s1."ts"))`)
}

func TestCompile_Errors(t *testing.T) {
	other := model.EventDataTable{Name: "other", UserIDField: "u", EventTimeField: "t", EventNameField: "e"}
	foreign := model.EventFieldDef{Table: other, EventName: "x", Field: model.Column("plan", model.Field{Type: model.TypeString})}

	tests := []struct {
		name    string
		dialect dialect.Dialect
		metric  model.Metric
		target  error
	}{
		{"zero steps", dialect.NewPostgres(),
			model.Conversion{Window: hour(1), Config: config(model.Day)}, model.ErrValidation},
		{"missing window", dialect.NewPostgres(),
			model.Conversion{Steps: []model.Segment{occurred("view")}, Config: config(model.Day)}, model.ErrValidation},
		{"start after end", dialect.NewPostgres(),
			model.Segmentation{Segment: occurred("view"), Config: model.MetricConfig{Start: end, End: start}}, model.ErrValidation},
		{"quarter on sqlite", dialect.NewSQLite(),
			model.Segmentation{Segment: occurred("view"), Config: config(model.Quarter)}, model.ErrUnsupported},
		{"quarter on mysql funnel", dialect.NewMySQL(),
			model.Conversion{Steps: []model.Segment{occurred("view")}, Window: hour(1), Config: config(model.Quarter)}, model.ErrUnsupported},
		{"group by on another table", dialect.NewPostgres(),
			model.Segmentation{Segment: occurred("view"), Config: model.MetricConfig{Start: start, End: end, GroupBy: &foreign}}, model.ErrValidation},
		{"segment spans tables", dialect.NewPostgres(),
			model.Segmentation{Segment: model.AndSegments(occurred("view"), foreign.Eq("a")), Config: config(model.Day)}, model.ErrValidation},
		{"nil metric", dialect.NewPostgres(), nil, model.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewBuilder(tt.dialect).Compile(tt.metric)
			assert.Nil(t, q)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

// fixture is an in-memory SQLite events table.
type fixture struct {
	db      *sql.DB
	adapter *dialect.Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE events (user_id TEXT, ts DATETIME, event TEXT, plan TEXT)`)
	require.NoError(t, err)
	return &fixture{
		db:      db,
		adapter: dialect.NewAdapter(dialect.NewSQLite(), warehouse.NewSQLConnection(db, "sqlite3")),
	}
}

func (f *fixture) add(t *testing.T, user string, ts time.Time, event, plan string) {
	t.Helper()
	_, err := f.db.Exec(`INSERT INTO events VALUES (?, ?, ?, ?)`, user, ts.Format("2006-01-02 15:04:05"), event, plan)
	require.NoError(t, err)
}

func (f *fixture) run(t *testing.T, m model.Metric) *warehouse.Result {
	t.Helper()
	q, err := NewBuilder(dialect.NewSQLite()).Compile(m)
	require.NoError(t, err)
	res, err := q.Execute(context.Background(), f.adapter)
	require.NoError(t, err, q.Render())
	return res
}

func TestExecute_ConversionFunnel(t *testing.T) {
	f := newFixture(t)
	f.add(t, "A", t0, "view", "pro")
	f.add(t, "A", t0.Add(time.Hour), "cart", "pro")
	f.add(t, "B", t0, "view", "free")
	f.add(t, "C", t0, "cart", "free")

	res := f.run(t, model.Conversion{
		Steps:  []model.Segment{occurred("view"), occurred("cart")},
		Window: hour(1),
		Config: config(model.Total),
	})

	assert.Equal(t, []string{
		"datetime", "group", "conversion_rate",
		"unique_user_count_1", "event_count_1",
		"unique_user_count_2", "event_count_2",
	}, res.Columns)
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Nil(t, row[0])
	assert.Nil(t, row[1])
	assert.InDelta(t, 0.5, row[2], 1e-9)
	assert.Equal(t, int64(2), row[3])
	assert.Equal(t, int64(1), row[5])
}

func TestExecute_ConversionWindowExcludesLateSteps(t *testing.T) {
	f := newFixture(t)
	f.add(t, "A", t0, "view", "pro")
	f.add(t, "A", t0.Add(2*time.Hour), "cart", "pro")
	f.add(t, "B", t0, "view", "free")
	f.add(t, "B", t0.Add(-time.Minute), "cart", "free") // before the first step

	res := f.run(t, model.Conversion{
		Steps:  []model.Segment{occurred("view"), occurred("cart")},
		Window: hour(1),
		Config: config(model.Total),
	})
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(2), res.Rows[0][3])
	assert.Equal(t, int64(0), res.Rows[0][5])
	assert.InDelta(t, 0.0, res.Rows[0][2], 1e-9)
}

func TestExecute_TotalSegmentation(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 787; i++ {
		f.add(t, fmt.Sprintf("u%03d", i%108), t0.Add(time.Duration(i)*time.Minute), "cart", "pro")
	}
	f.add(t, "late", end.Add(time.Hour), "cart", "pro")
	f.add(t, "viewer", t0, "view", "pro")

	res := f.run(t, model.Segmentation{Segment: occurred("cart"), Config: config(model.Total)})

	assert.Equal(t, []string{"datetime", "group", "unique_user_count", "event_count"}, res.Columns)
	assert.Equal(t, [][]any{{nil, nil, int64(108), int64(787)}}, res.Rows)
}

func TestExecute_DailyGroupedSegmentation(t *testing.T) {
	f := newFixture(t)
	day2 := t0.Add(24 * time.Hour)
	f.add(t, "A", t0, "view", "pro")
	f.add(t, "A", t0.Add(time.Hour), "view", "pro")
	f.add(t, "B", t0, "view", "free")
	f.add(t, "A", day2, "view", "pro")

	plan := field("view", "plan", model.TypeString)
	res := f.run(t, model.Segmentation{
		Segment: occurred("view"),
		Config:  model.MetricConfig{Start: start, End: end, TimeGroup: model.Day, GroupBy: &plan},
	})

	assert.Equal(t, [][]any{
		{"2024-03-05 00:00:00", "free", int64(1), int64(1)},
		{"2024-03-05 00:00:00", "pro", int64(1), int64(2)},
		{"2024-03-06 00:00:00", "pro", int64(1), int64(1)},
	}, res.Rows)
}

func TestExecute_MaxGroupCount(t *testing.T) {
	f := newFixture(t)
	for i, plan := range []string{"pro", "pro", "pro", "free", "free", "team"} {
		f.add(t, fmt.Sprintf("u%d", i), t0, "view", plan)
	}

	plan := field("view", "plan", model.TypeString)
	m := model.Segmentation{
		Segment: occurred("view"),
		Config:  model.MetricConfig{Start: start, End: end, TimeGroup: model.Total, GroupBy: &plan, MaxGroupCount: 2},
	}
	res := f.run(t, m)
	assert.Equal(t, [][]any{
		{nil, "free", int64(2), int64(2)},
		{nil, "pro", int64(3), int64(3)},
	}, res.Rows)

	q, err := NewBuilder(dialect.NewSQLite()).Compile(m)
	require.NoError(t, err)
	assert.NotContains(t, q.Render(), "LIMIT", "group limiting happens on results")
}

func TestExecute_DialectMismatch(t *testing.T) {
	f := newFixture(t)
	q, err := NewBuilder(dialect.NewPostgres()).Compile(model.Segmentation{Segment: occurred("view"), Config: config(model.Day)})
	require.NoError(t, err)

	_, err = q.Execute(context.Background(), f.adapter)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestExecute_WrapsDriverErrors(t *testing.T) {
	f := newFixture(t)
	missing := model.EventDataTable{Name: "missing", UserIDField: "u", EventTimeField: "t", EventNameField: "e"}
	seg := model.SimpleSegment{Left: model.EventFieldDef{Table: missing, EventName: "x"}}

	q, err := NewBuilder(dialect.NewSQLite()).Compile(model.Segmentation{Segment: seg, Config: config(model.Total)})
	require.NoError(t, err)
	_, err = q.Execute(context.Background(), f.adapter)

	var execErr *model.QueryExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "run_segmentation", execErr.Operation)
	assert.Contains(t, execErr.SQL, `FROM "missing" e`)
	assert.Contains(t, execErr.SQL, `'x'`, "values are inlined")
	assert.NotContains(t, execErr.SQL, "?")
	assert.Equal(t, q.Render(), execErr.SQL)
	assert.Empty(t, execErr.Args)
}

func TestTopGroups(t *testing.T) {
	rows := [][]any{
		{"d1", "b", int64(5)},
		{"d1", "a", int64(5)},
		{"d2", "c", int64(2)},
		{"d2", "c", int64(7)},
		{"d2", nil, int64(1)},
	}
	assert.Equal(t, [][]any{
		{"d1", "a", int64(5)},
		{"d2", "c", int64(2)},
		{"d2", "c", int64(7)},
	}, topGroups(rows, 2, 2))
	assert.Equal(t, rows, topGroups(rows, 2, 10))
}

func TestTopGroups_NullAndEmptyGroupsRankApart(t *testing.T) {
	rows := [][]any{
		{nil, "", int64(3)},
		{nil, nil, int64(2)},
		{nil, "pro", int64(4)},
		{nil, "", int64(2)},
	}
	// "" totals 5, NULL totals 2; merged they would outrank "pro" and keep NULL
	assert.Equal(t, [][]any{
		{nil, "", int64(3)},
		{nil, "pro", int64(4)},
		{nil, "", int64(2)},
	}, topGroups(rows, 2, 2))
	assert.Equal(t, [][]any{
		{nil, "", int64(3)},
		{nil, "", int64(2)},
	}, topGroups(rows, 2, 1))
}
