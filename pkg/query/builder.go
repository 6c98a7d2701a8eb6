// Package query translates declarative aggregation requests into grouped,
// bucketed reductions over schema-less stored rows.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/datalens-labs/datalens/pkg/schema"
	"github.com/datalens-labs/datalens/pkg/store"
)

// ErrInvalidRequest marks a malformed or referentially-invalid request.
// It is always detected before any row is read from the store.
var ErrInvalidRequest = errors.New("invalid request")

// Agg names a measure reduction.
type Agg string

const (
	AggSum   Agg = "sum"
	AggAvg   Agg = "avg"
	AggMin   Agg = "min"
	AggMax   Agg = "max"
	AggCount Agg = "count"
)

// Time bucket granularities.
const (
	BucketDay   = "day"
	BucketMonth = "month"
	BucketYear  = "year"
)

// Measure is a field plus a reduction applied within each group. An empty
// Agg defaults to sum.
type Measure struct {
	Field string `json:"field"`
	Agg   Agg    `json:"agg"`
}

// Request is a declarative grouped-aggregation request.
type Request struct {
	DatasetID  string         `json:"datasetId"`
	Measures   []Measure      `json:"measures"`
	Dimensions []string       `json:"dimensions"`
	Filters    map[string]any `json:"filters"`
	TimeBucket string         `json:"timeBucket,omitempty"`
	TimeField  string         `json:"timeField,omitempty"`
}

// RowSource is the slice of the store the builder consumes.
type RowSource interface {
	FieldsByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.Field, error)
	QueryRows(ctx context.Context, datasetID uuid.UUID, filter store.RowFilter) (store.RowIterator, error)
}

// Config configures the aggregation builder.
type Config struct {
	Logger *slog.Logger
	Store  RowSource
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	return nil
}

// Builder validates aggregation requests against a dataset's field schema,
// executes them, and reshapes results into flat rows.
type Builder struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{log: cfg.Logger, cfg: cfg}, nil
}

// dimPlan is one grouping-key component.
type dimPlan struct {
	name     string
	bucketed bool
	bucket   string
}

// measurePlan is one reduction with its output key. Two measures may collide
// on the same key; the later one wins when the result row is assembled.
type measurePlan struct {
	field string
	agg   Agg
	key   string
}

// Aggregate validates req, pulls matching rows, groups and reduces them, and
// returns flat result rows sorted ascending by each dimension in declaration
// order. Validation failures surface as ErrInvalidRequest before the store
// is asked for rows.
func (b *Builder) Aggregate(ctx context.Context, req Request) ([]*ResultRow, error) {
	if req.DatasetID == "" {
		return nil, fmt.Errorf("%w: datasetId is required", ErrInvalidRequest)
	}
	datasetID, err := uuid.Parse(req.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid datasetId %q", ErrInvalidRequest, req.DatasetID)
	}

	fields, err := b.cfg.Store.FieldsByDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fields: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: unknown dataset %s", ErrInvalidRequest, req.DatasetID)
	}
	fieldsByName := make(map[string]store.Field, len(fields))
	for _, f := range fields {
		fieldsByName[f.Name] = f
	}

	dims := make([]dimPlan, 0, len(req.Dimensions))
	for _, dim := range req.Dimensions {
		f, ok := fieldsByName[dim]
		if !ok {
			return nil, fmt.Errorf("%w: unknown dimension field %s", ErrInvalidRequest, dim)
		}
		plan := dimPlan{name: dim}
		if f.Type == schema.Temporal && (req.TimeBucket != "" || req.TimeField == dim) {
			plan.bucketed = true
			plan.bucket = req.TimeBucket
			if plan.bucket == "" {
				plan.bucket = BucketDay
			}
		}
		dims = append(dims, plan)
	}

	measures := make([]measurePlan, 0, len(req.Measures))
	for _, m := range req.Measures {
		if _, ok := fieldsByName[m.Field]; !ok {
			return nil, fmt.Errorf("%w: unknown measure field %s", ErrInvalidRequest, m.Field)
		}
		agg := m.Agg
		if agg == "" {
			agg = AggSum
		}
		switch agg {
		case AggSum, AggAvg, AggMin, AggMax, AggCount:
		default:
			return nil, fmt.Errorf("%w: unsupported agg %s", ErrInvalidRequest, agg)
		}
		measures = append(measures, measurePlan{
			field: m.Field,
			agg:   agg,
			key:   fmt.Sprintf("%s_%s", agg, m.Field),
		})
	}

	it, err := b.cfg.Store.QueryRows(ctx, datasetID, store.RowFilter(req.Filters))
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer it.Close()

	order, err := fold(it, dims, measures)
	if err != nil {
		return nil, err
	}

	sortGroups(order, len(dims))

	out := make([]*ResultRow, 0, len(order))
	for _, g := range order {
		row := NewResultRow()
		for i, d := range dims {
			row.Set(d.name, g.dims[i])
		}
		for i, m := range measures {
			row.Set(m.key, g.accs[i].value(m.agg))
		}
		out = append(out, row)
	}
	return out, nil
}

type group struct {
	dims []any
	accs []accumulator
}

// fold consumes the row iterator, assigning each row to its group and
// feeding each measure accumulator.
func fold(it store.RowIterator, dims []dimPlan, measures []measurePlan) ([]*group, error) {
	groups := make(map[string]*group)
	var order []*group

	var keyBuf strings.Builder
	for it.Next() {
		row := it.Row()

		// Each part is length-prefixed so a value containing the separator
		// byte cannot shift the part boundaries and merge distinct groups.
		keyBuf.Reset()
		dimValues := make([]any, len(dims))
		for i, d := range dims {
			v := dimValue(row, d)
			dimValues[i] = v
			part := encodeKeyPart(v)
			fmt.Fprintf(&keyBuf, "%d\x1f%s", len(part), part)
		}
		key := keyBuf.String()

		g, ok := groups[key]
		if !ok {
			g = &group{dims: dimValues, accs: make([]accumulator, len(measures))}
			groups[key] = g
			order = append(order, g)
		}
		for i, m := range measures {
			g.accs[i].record(m, row)
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return order, nil
}

// dimValue resolves one group-key component: the raw field value, or its
// bucketed rendering for a bucketed temporal dimension.
func dimValue(row schema.Row, d dimPlan) any {
	v := row[d.name]
	if !d.bucketed {
		return v
	}
	t, ok := CoerceTime(v)
	if !ok {
		return nil
	}
	t = t.UTC()
	switch d.bucket {
	case BucketDay:
		return t.Format("2006-01-02")
	case BucketMonth:
		return t.Format("2006-01")
	case BucketYear:
		return t.Format("2006")
	default:
		// Unrecognized granularity buckets to the full instant.
		return schema.Stringify(t)
	}
}

// accumulator folds one measure within one group. Values that fail numeric
// coercion contribute nothing to sum/avg/min/max; count counts rows in the
// group regardless of coercion success.
type accumulator struct {
	rows    int
	coerced int
	sum     float64
	min     float64
	max     float64
}

func (a *accumulator) record(m measurePlan, row schema.Row) {
	a.rows++
	if m.agg == AggCount {
		return
	}
	n, ok := CoerceNumber(row[m.field])
	if !ok {
		return
	}
	if a.coerced == 0 || n < a.min {
		a.min = n
	}
	if a.coerced == 0 || n > a.max {
		a.max = n
	}
	a.sum += n
	a.coerced++
}

func (a *accumulator) value(agg Agg) any {
	switch agg {
	case AggCount:
		return float64(a.rows)
	case AggSum:
		return a.sum
	case AggAvg:
		if a.coerced == 0 {
			return nil
		}
		return a.sum / float64(a.coerced)
	case AggMin:
		if a.coerced == 0 {
			return nil
		}
		return a.min
	case AggMax:
		if a.coerced == 0 {
			return nil
		}
		return a.max
	}
	return nil
}

// encodeKeyPart renders a group-key component with a kind tag so that e.g.
// the number 10 and the string "10" land in distinct groups.
func encodeKeyPart(v any) string {
	switch s := v.(type) {
	case nil:
		return "z"
	case bool:
		return "b" + schema.Stringify(s)
	case string:
		return "s" + s
	case float64, float32, int, int32, int64:
		n, _ := numericRaw(v)
		return "n" + schema.Stringify(n)
	}
	return "s" + schema.Stringify(v)
}

// sortGroups orders result groups ascending by each dimension in declaration
// order. Values compare within kind brackets (nil, then numbers, then
// strings, then booleans), numbers numerically and strings lexically.
func sortGroups(order []*group, dimCount int) {
	sort.SliceStable(order, func(i, j int) bool {
		for d := 0; d < dimCount; d++ {
			if c := compareValues(order[i].dims[d], order[j].dims[d]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func compareValues(a, b any) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0: // both nil
		return 0
	case 1:
		an, _ := numericRaw(a)
		bn, _ := numericRaw(b)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case 3:
		ab := a.(bool)
		bb := b.(bool)
		switch {
		case !ab && bb:
			return -1
		case ab && !bb:
			return 1
		}
		return 0
	default:
		return strings.Compare(schema.Stringify(a), schema.Stringify(b))
	}
}

func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64, float32, int, int32, int64:
		return 1
	case bool:
		return 3
	default:
		return 2
	}
}

func numericRaw(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
