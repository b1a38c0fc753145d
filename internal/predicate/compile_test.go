package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/dialect"
	"github.com/aevon-lab/insight/internal/sqlexpr"
)

var events = model.EventDataTable{
	Name:           "events",
	UserIDField:    "user_id",
	EventTimeField: "ts",
	EventNameField: "event",
}

func field(event, name string, typ model.DataType) model.EventFieldDef {
	return model.EventFieldDef{
		Table:     events,
		EventName: event,
		Field:     model.Column(name, model.Field{Type: typ}),
	}
}

func occurred(event string) model.SimpleSegment {
	return model.SimpleSegment{Left: model.EventFieldDef{Table: events, EventName: event}}
}

func render(t *testing.T, seg model.Segment) (string, []any) {
	t.Helper()
	expr, err := Compile(seg)
	require.NoError(t, err)
	b := dialect.NewBinder(dialect.NewPostgres(), false)
	return sqlexpr.Render(expr, b, "e"), b.Args()
}

func TestCompile_Simple(t *testing.T) {
	plan := field("checkout", "plan", model.TypeString)
	amount := field("checkout", "amount", model.TypeNumber)

	tests := []struct {
		name string
		seg  model.Segment
		sql  string
		args []any
	}{
		{"occurred", occurred("view"), `(e."event" = $1)`, []any{"view"}},
		{"any event", occurred(model.AnyEvent), `(1 = 1)`, nil},
		{"eq", plan.Eq("pro"), `((e."event" = $1) AND (e."plan" = $2))`, []any{"checkout", "pro"}},
		{"neq", plan.Neq("pro"), `((e."event" = $1) AND (e."plan" <> $2))`, []any{"checkout", "pro"}},
		{"gt", amount.Gt(10), `((e."event" = $1) AND (e."amount" > $2))`, []any{"checkout", 10}},
		{"lt", amount.Lt(10), `((e."event" = $1) AND (e."amount" < $2))`, []any{"checkout", 10}},
		{"gt_eq", amount.GtEq(10), `((e."event" = $1) AND (e."amount" >= $2))`, []any{"checkout", 10}},
		{"lt_eq", amount.LtEq(10), `((e."event" = $1) AND (e."amount" <= $2))`, []any{"checkout", 10}},
		{"like", plan.Like("pro%"), `((e."event" = $1) AND (e."plan" LIKE $2))`, []any{"checkout", "pro%"}},
		{"not like", plan.NotLike("pro%"), `((e."event" = $1) AND (NOT (e."plan" LIKE $2)))`, []any{"checkout", "pro%"}},
		{"any of", plan.AnyOf("a", "b"), `((e."event" = $1) AND (e."plan" IN ($2, $3)))`, []any{"checkout", "a", "b"}},
		{"none of", plan.NoneOf("a"), `((e."event" = $1) AND (e."plan" NOT IN ($2)))`, []any{"checkout", "a"}},
		{"typed list", model.SimpleSegment{Left: amount, Operator: model.OpAnyOf, Right: []int{1, 2}},
			`((e."event" = $1) AND (e."amount" IN ($2, $3)))`, []any{"checkout", 1, 2}},
		{"is null ignores right", model.SimpleSegment{Left: plan, Operator: model.OpIsNull, Right: "ignored"},
			`((e."event" = $1) AND (e."plan" IS NULL))`, []any{"checkout"}},
		{"is not null", plan.IsNotNull(), `((e."event" = $1) AND (e."plan" IS NOT NULL))`, []any{"checkout"}},
		{"wildcard with field", field(model.AnyEvent, "plan", model.TypeString).Eq("pro"), `(e."plan" = $1)`, []any{"pro"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := render(t, tt.seg)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestCompile_Complex(t *testing.T) {
	plan := field("checkout", "plan", model.TypeString)
	seg := model.OrSegments(
		model.AndSegments(occurred("view"), plan.Eq("pro")),
		occurred("cart"),
	)

	sql, args := render(t, seg)
	assert.Equal(t, `(((e."event" = $1) AND ((e."event" = $2) AND (e."plan" = $3))) OR (e."event" = $4))`, sql)
	assert.Equal(t, []any{"view", "checkout", "pro", "cart"}, args)

	// AND(a, b) renders as compile(a) AND compile(b)
	a := renderInline(t, occurred("view"))
	b := renderInline(t, occurred("cart"))
	assert.Equal(t, "("+a+" AND "+b+")", renderInline(t, model.AndSegments(occurred("view"), occurred("cart"))))

	first, err := Compile(seg)
	require.NoError(t, err)
	second, err := Compile(seg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func renderInline(t *testing.T, seg model.Segment) string {
	t.Helper()
	expr, err := Compile(seg)
	require.NoError(t, err)
	return sqlexpr.Render(expr, dialect.NewBinder(dialect.NewANSI(), true), "e")
}

func TestCompile_AliasTable(t *testing.T) {
	signups := model.EventDataTable{Name: "signups", UserIDField: "uid", EventTimeField: "at", EventNameAlias: "signup"}
	source := model.EventFieldDef{Table: signups, EventName: "signup", Field: model.Column("source", model.Field{Type: model.TypeString})}

	sql, args := render(t, model.SimpleSegment{Left: model.EventFieldDef{Table: signups, EventName: "signup"}})
	assert.Equal(t, "(1 = 1)", sql)
	assert.Empty(t, args)

	sql, _ = render(t, source.Eq("ads"))
	assert.Equal(t, `(e."source" = $1)`, sql)

	_, err := Compile(model.SimpleSegment{Left: model.EventFieldDef{Table: signups, EventName: "login"}})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCompile_Invalid(t *testing.T) {
	plan := field("checkout", "plan", model.TypeString)
	tests := []struct {
		name string
		seg  model.Segment
	}{
		{"nil", nil},
		{"missing side", model.ComplexSegment{Left: occurred("view"), Op: model.And}},
		{"bad binary operator", model.ComplexSegment{Left: occurred("a"), Right: occurred("b")}},
		{"operator without field", model.SimpleSegment{Left: model.EventFieldDef{Table: events, EventName: "view"}, Operator: model.OpEq, Right: 1}},
		{"missing value", model.SimpleSegment{Left: plan, Operator: model.OpEq}},
		{"list for scalar operator", model.SimpleSegment{Left: plan, Operator: model.OpGt, Right: []any{1}}},
		{"scalar for list operator", model.SimpleSegment{Left: plan, Operator: model.OpAnyOf, Right: "a"}},
		{"non string pattern", model.SimpleSegment{Left: plan, Operator: model.OpLike, Right: 3}},
		{"unknown operator", model.SimpleSegment{Left: plan, Operator: model.Operator(99), Right: 1}},
		{"missing event", model.SimpleSegment{Left: model.EventFieldDef{Table: events}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.seg)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}
