package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/datalens-labs/datalens/pkg/schema"
	"github.com/datalens-labs/datalens/pkg/store"
	"github.com/datalens-labs/datalens/pkg/testutil"
)

func seedDataset(t *testing.T, mem *store.Memory, fields []schema.Field, rows []schema.Row) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	datasetID := uuid.New()
	require.NoError(t, mem.CreateDataset(ctx, &store.Dataset{ID: datasetID, Name: "test"}))
	records := make([]store.Field, len(fields))
	for i, f := range fields {
		records[i] = store.Field{ID: uuid.New(), DatasetID: datasetID, Field: f}
	}
	require.NoError(t, mem.InsertFields(ctx, records))
	_, err := mem.InsertRows(ctx, datasetID, rows)
	require.NoError(t, err)
	return datasetID
}

func newBuilder(t *testing.T, src RowSource) *Builder {
	t.Helper()
	b, err := New(Config{Logger: testutil.NewLogger(), Store: src})
	require.NoError(t, err)
	return b
}

func salesFields() []schema.Field {
	return []schema.Field{
		{Name: "Region", DisplayName: "Region", OrdinalPosition: 0, Type: schema.Categorical},
		{Name: "Sales", DisplayName: "Sales", OrdinalPosition: 1, Type: schema.Numerical},
		{Name: "Date", DisplayName: "Date", OrdinalPosition: 2, Type: schema.Temporal},
	}
}

func TestQuery_Aggregate_Grouping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	datasetID := seedDataset(t, mem, salesFields(), []schema.Row{
		{"Region": "N", "Sales": float64(10)},
		{"Region": "N", "Sales": float64(20)},
		{"Region": "S", "Sales": float64(5)},
	})
	b := newBuilder(t, mem)

	rows, err := b.Aggregate(ctx, Request{
		DatasetID:  datasetID.String(),
		Measures:   []Measure{{Field: "Sales", Agg: AggSum}},
		Dimensions: []string{"Region"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	region, _ := rows[0].Get("Region")
	sum, _ := rows[0].Get("sum_Sales")
	require.Equal(t, "N", region)
	require.Equal(t, float64(30), sum)

	region, _ = rows[1].Get("Region")
	sum, _ = rows[1].Get("sum_Sales")
	require.Equal(t, "S", region)
	require.Equal(t, float64(5), sum)
}

func TestQuery_Aggregate_TimeBucketing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	datasetID := seedDataset(t, mem, salesFields(), []schema.Row{
		{"Date": "2024-01-05", "Sales": float64(1)},
		{"Date": "2024-01-20", "Sales": float64(2)},
		{"Date": "2024-02-01", "Sales": float64(3)},
	})
	b := newBuilder(t, mem)

	t.Run("month buckets", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID:  datasetID.String(),
			Measures:   []Measure{{Field: "Sales", Agg: AggCount}},
			Dimensions: []string{"Date"},
			TimeBucket: BucketMonth,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)

		date, _ := rows[0].Get("Date")
		count, _ := rows[0].Get("count_Sales")
		require.Equal(t, "2024-01", date)
		require.Equal(t, float64(2), count)

		date, _ = rows[1].Get("Date")
		count, _ = rows[1].Get("count_Sales")
		require.Equal(t, "2024-02", date)
		require.Equal(t, float64(1), count)
	})

	t.Run("year buckets", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID:  datasetID.String(),
			Measures:   []Measure{{Field: "Sales", Agg: AggSum}},
			Dimensions: []string{"Date"},
			TimeBucket: BucketYear,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		date, _ := rows[0].Get("Date")
		require.Equal(t, "2024", date)
	})

	t.Run("timeField without bucket defaults to day", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID:  datasetID.String(),
			Measures:   []Measure{{Field: "Sales", Agg: AggSum}},
			Dimensions: []string{"Date"},
			TimeField:  "Date",
		})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		date, _ := rows[0].Get("Date")
		require.Equal(t, "2024-01-05", date)
	})

	t.Run("non-temporal dimension keeps raw values", func(t *testing.T) {
		mem := store.NewMemory()
		datasetID := seedDataset(t, mem, salesFields(), []schema.Row{
			{"Region": "N", "Sales": float64(1)},
			{"Region": "S", "Sales": float64(2)},
		})
		b := newBuilder(t, mem)
		rows, err := b.Aggregate(ctx, Request{
			DatasetID:  datasetID.String(),
			Measures:   []Measure{{Field: "Sales", Agg: AggSum}},
			Dimensions: []string{"Region"},
			TimeBucket: BucketMonth,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		region, _ := rows[0].Get("Region")
		require.Equal(t, "N", region)
	})
}

func TestQuery_Aggregate_Filters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	datasetID := seedDataset(t, mem, salesFields(), []schema.Row{
		{"Region": "N", "Sales": float64(10)},
		{"Region": "N", "Sales": float64(20)},
		{"Region": "S", "Sales": float64(5)},
	})
	b := newBuilder(t, mem)

	t.Run("set membership excludes non-members", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID:  datasetID.String(),
			Measures:   []Measure{{Field: "Sales", Agg: AggSum}},
			Dimensions: []string{"Region"},
			Filters:    map[string]any{"Region": []any{"N"}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		region, _ := rows[0].Get("Region")
		require.Equal(t, "N", region)
	})

	t.Run("scalar equality", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID:  datasetID.String(),
			Measures:   []Measure{{Field: "Sales", Agg: AggSum}},
			Dimensions: []string{"Region"},
			Filters:    map[string]any{"Region": "S"},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		sum, _ := rows[0].Get("sum_Sales")
		require.Equal(t, float64(5), sum)
	})

	t.Run("nil filter value is ignored", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID:  datasetID.String(),
			Measures:   []Measure{{Field: "Sales", Agg: AggSum}},
			Dimensions: []string{"Region"},
			Filters:    map[string]any{"Region": nil},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})
}

// spySource fails the test if rows are read after a validation error.
type spySource struct {
	fields  []store.Field
	queried bool
}

func (s *spySource) FieldsByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.Field, error) {
	return s.fields, nil
}

func (s *spySource) QueryRows(ctx context.Context, datasetID uuid.UUID, filter store.RowFilter) (store.RowIterator, error) {
	s.queried = true
	return store.NewMemory().QueryRows(ctx, datasetID, filter)
}

func TestQuery_Aggregate_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fields := []store.Field{
		{ID: uuid.New(), Field: schema.Field{Name: "Region", Type: schema.Categorical}},
		{ID: uuid.New(), Field: schema.Field{Name: "Sales", Type: schema.Numerical}},
	}

	t.Run("missing datasetId", func(t *testing.T) {
		t.Parallel()
		spy := &spySource{fields: fields}
		b := newBuilder(t, spy)
		_, err := b.Aggregate(ctx, Request{})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.Contains(t, err.Error(), "datasetId is required")
		require.False(t, spy.queried)
	})

	t.Run("malformed datasetId", func(t *testing.T) {
		t.Parallel()
		spy := &spySource{fields: fields}
		b := newBuilder(t, spy)
		_, err := b.Aggregate(ctx, Request{DatasetID: "not-a-uuid"})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.False(t, spy.queried)
	})

	t.Run("unknown dataset", func(t *testing.T) {
		t.Parallel()
		spy := &spySource{}
		b := newBuilder(t, spy)
		_, err := b.Aggregate(ctx, Request{DatasetID: uuid.NewString()})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.Contains(t, err.Error(), "unknown dataset")
		require.False(t, spy.queried)
	})

	t.Run("unknown dimension names the field and reads no rows", func(t *testing.T) {
		t.Parallel()
		spy := &spySource{fields: fields}
		b := newBuilder(t, spy)
		_, err := b.Aggregate(ctx, Request{
			DatasetID:  uuid.NewString(),
			Dimensions: []string{"Nonexistent"},
		})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.Contains(t, err.Error(), "unknown dimension field Nonexistent")
		require.False(t, spy.queried)
	})

	t.Run("unknown measure field", func(t *testing.T) {
		t.Parallel()
		spy := &spySource{fields: fields}
		b := newBuilder(t, spy)
		_, err := b.Aggregate(ctx, Request{
			DatasetID: uuid.NewString(),
			Measures:  []Measure{{Field: "Profit", Agg: AggSum}},
		})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.Contains(t, err.Error(), "unknown measure field Profit")
		require.False(t, spy.queried)
	})

	t.Run("unsupported agg", func(t *testing.T) {
		t.Parallel()
		spy := &spySource{fields: fields}
		b := newBuilder(t, spy)
		_, err := b.Aggregate(ctx, Request{
			DatasetID: uuid.NewString(),
			Measures:  []Measure{{Field: "Sales", Agg: "median"}},
		})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.Contains(t, err.Error(), "unsupported agg median")
		require.False(t, spy.queried)
	})
}

func TestQuery_Aggregate_Measures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	datasetID := seedDataset(t, mem, salesFields(), []schema.Row{
		{"Region": "N", "Sales": "1,000"},
		{"Region": "N", "Sales": "junk"},
		{"Region": "N", "Sales": float64(500)},
		{"Region": "N", "Sales": nil},
	})
	b := newBuilder(t, mem)

	rows, err := b.Aggregate(ctx, Request{
		DatasetID: datasetID.String(),
		Measures: []Measure{
			{Field: "Sales", Agg: AggSum},
			{Field: "Sales", Agg: AggAvg},
			{Field: "Sales", Agg: AggMin},
			{Field: "Sales", Agg: AggMax},
			{Field: "Sales", Agg: AggCount},
		},
		Dimensions: []string{"Region"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	sum, _ := rows[0].Get("sum_Sales")
	avg, _ := rows[0].Get("avg_Sales")
	minV, _ := rows[0].Get("min_Sales")
	maxV, _ := rows[0].Get("max_Sales")
	count, _ := rows[0].Get("count_Sales")

	// "junk" and nil are skipped by coercion; count still counts all rows.
	require.Equal(t, float64(1500), sum)
	require.Equal(t, float64(750), avg)
	require.Equal(t, float64(500), minV)
	require.Equal(t, float64(1000), maxV)
	require.Equal(t, float64(4), count)

	t.Run("empty agg defaults to sum", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID: datasetID.String(),
			Measures:  []Measure{{Field: "Sales"}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		sum, ok := rows[0].Get("sum_Sales")
		require.True(t, ok)
		require.Equal(t, float64(1500), sum)
	})

	t.Run("colliding measure keys last write wins", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID: datasetID.String(),
			Measures: []Measure{
				{Field: "Sales", Agg: AggSum},
				{Field: "Sales", Agg: AggSum},
			},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, []string{"sum_Sales"}, rows[0].Keys())
	})

	t.Run("no matching rows yields no result rows", func(t *testing.T) {
		rows, err := b.Aggregate(ctx, Request{
			DatasetID: datasetID.String(),
			Measures:  []Measure{{Field: "Sales", Agg: AggSum}},
			Filters:   map[string]any{"Region": "Z"},
		})
		require.NoError(t, err)
		require.Empty(t, rows)
	})
}

func TestQuery_Aggregate_Ordering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	datasetID := seedDataset(t, mem, []schema.Field{
		{Name: "Region", Type: schema.Categorical, OrdinalPosition: 0},
		{Name: "Product", Type: schema.Categorical, OrdinalPosition: 1},
		{Name: "Sales", Type: schema.Numerical, OrdinalPosition: 2},
	}, []schema.Row{
		{"Region": "S", "Product": "b", "Sales": float64(1)},
		{"Region": "N", "Product": "b", "Sales": float64(2)},
		{"Region": "S", "Product": "a", "Sales": float64(3)},
		{"Region": "N", "Product": "a", "Sales": float64(4)},
	})
	b := newBuilder(t, mem)

	rows, err := b.Aggregate(ctx, Request{
		DatasetID:  datasetID.String(),
		Measures:   []Measure{{Field: "Sales", Agg: AggSum}},
		Dimensions: []string{"Region", "Product"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	var got []string
	for _, r := range rows {
		region, _ := r.Get("Region")
		product, _ := r.Get("Product")
		got = append(got, region.(string)+product.(string))
	}
	require.Equal(t, []string{"Na", "Nb", "Sa", "Sb"}, got)
}

func TestQuery_Aggregate_SeparatorInDimensionValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Values containing the internal key separator byte must not merge with
	// a differently-split pair of adjacent dimension values.
	mem := store.NewMemory()
	datasetID := seedDataset(t, mem, []schema.Field{
		{Name: "A", Type: schema.Categorical, OrdinalPosition: 0},
		{Name: "B", Type: schema.Categorical, OrdinalPosition: 1},
	}, []schema.Row{
		{"A": "a", "B": "b\x1fz"},
		{"A": "a\x1fsb", "B": nil},
	})
	b := newBuilder(t, mem)

	rows, err := b.Aggregate(ctx, Request{
		DatasetID:  datasetID.String(),
		Measures:   []Measure{{Field: "A", Agg: AggCount}},
		Dimensions: []string{"A", "B"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, r := range rows {
		count, _ := r.Get("count_A")
		require.Equal(t, float64(1), count)
	}
}

func TestQuery_ResultRow_JSON(t *testing.T) {
	t.Parallel()

	r := NewResultRow()
	r.Set("Region", "N")
	r.Set("sum_Sales", float64(30))
	r.Set("Region", "N") // re-set keeps position

	data, err := json.Marshal(r)
	require.NoError(t, err)
	require.Equal(t, `{"Region":"N","sum_Sales":30}`, string(data))
}
