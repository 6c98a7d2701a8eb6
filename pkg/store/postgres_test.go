package store_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/datalens-labs/datalens/pkg/schema"
	"github.com/datalens-labs/datalens/pkg/store"
	"github.com/datalens-labs/datalens/pkg/store/postgrestest"
	"github.com/datalens-labs/datalens/pkg/testutil"
)

var testDB *postgrestest.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	log := testutil.NewLogger()

	var err error
	testDB, err = postgrestest.NewDB(ctx, log, nil)
	if err != nil {
		// No Docker available; the Postgres integration tests skip themselves.
		fmt.Fprintf(os.Stderr, "skipping postgres integration tests: %v\n", err)
		os.Exit(m.Run())
	}

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}

func newPostgresStore(t *testing.T) *store.Postgres {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres test container not available")
	}
	return postgrestest.NewTestStore(t, testutil.NewLogger(), testDB)
}

func seedDataset(t *testing.T, pg *store.Postgres, rows []schema.Row) uuid.UUID {
	t.Helper()
	ctx := t.Context()

	datasetID := uuid.New()
	require.NoError(t, pg.CreateDataset(ctx, &store.Dataset{
		ID: datasetID, Name: "sales", SourceFilename: "sales.csv", RowCount: int64(len(rows)),
	}))
	require.NoError(t, pg.InsertFields(ctx, []store.Field{
		{ID: uuid.New(), DatasetID: datasetID, Field: schema.Field{
			Name: "Region", DisplayName: "Region", OrdinalPosition: 0, Type: schema.Categorical,
			TopValues: []schema.TopValue{{Value: "North", Count: 2}},
		}},
		{ID: uuid.New(), DatasetID: datasetID, Field: schema.Field{
			Name: "Sales", DisplayName: "Sales", OrdinalPosition: 1, Type: schema.Numerical,
		}},
	}))
	inserted, err := pg.InsertRows(ctx, datasetID, rows)
	require.NoError(t, err)
	require.Equal(t, len(rows), inserted)
	return datasetID
}

func TestPostgres_Datasets(t *testing.T) {
	pg := newPostgresStore(t)
	ctx := t.Context()

	datasetID := seedDataset(t, pg, []schema.Row{
		{"Region": "North", "Sales": float64(100)},
		{"Region": "South", "Sales": float64(200)},
	})

	ds, err := pg.Dataset(ctx, datasetID)
	require.NoError(t, err)
	require.Equal(t, "sales", ds.Name)
	require.EqualValues(t, 2, ds.RowCount)
	require.False(t, ds.CreatedAt.IsZero())

	fields, err := pg.FieldsByDataset(ctx, datasetID)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	require.Equal(t, "Region", fields[0].Name)
	require.Equal(t, schema.Categorical, fields[0].Type)
	require.Equal(t, []schema.TopValue{{Value: "North", Count: 2}}, fields[0].TopValues)

	_, err = pg.Dataset(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgres_QueryRows(t *testing.T) {
	pg := newPostgresStore(t)
	ctx := t.Context()

	datasetID := seedDataset(t, pg, []schema.Row{
		{"Region": "North", "Sales": float64(100)},
		{"Region": "South", "Sales": float64(200)},
		{"Region": "North", "Sales": float64(300)},
	})

	collect := func(filter store.RowFilter) []schema.Row {
		it, err := pg.QueryRows(ctx, datasetID, filter)
		require.NoError(t, err)
		defer it.Close()
		var out []schema.Row
		for it.Next() {
			out = append(out, it.Row())
		}
		require.NoError(t, it.Err())
		return out
	}

	require.Len(t, collect(nil), 3)

	// Scalar equality pushes down as JSONB containment.
	north := collect(store.RowFilter{"Region": "North"})
	require.Len(t, north, 2)
	for _, row := range north {
		require.Equal(t, "North", row["Region"])
	}

	// Numeric equality matches JSON numbers.
	require.Len(t, collect(store.RowFilter{"Sales": float64(200)}), 1)

	// Slice values mean set membership.
	require.Len(t, collect(store.RowFilter{"Region": []any{"North", "South"}}), 3)
	require.Len(t, collect(store.RowFilter{"Region": []any{"West"}}), 0)

	// Nil filter values are ignored.
	require.Len(t, collect(store.RowFilter{"Region": nil}), 3)
}

func TestPostgres_RowsPagination(t *testing.T) {
	pg := newPostgresStore(t)
	ctx := t.Context()

	rows := make([]schema.Row, 7)
	for i := range rows {
		rows[i] = schema.Row{"Region": "North", "Sales": float64(i)}
	}
	datasetID := seedDataset(t, pg, rows)

	page, total, err := pg.Rows(ctx, datasetID, 3, 5)
	require.NoError(t, err)
	require.EqualValues(t, 7, total)
	require.Len(t, page, 2)
	require.Equal(t, float64(5), page[0].Data["Sales"])
}

func TestPostgres_DeleteDatasetCascades(t *testing.T) {
	pg := newPostgresStore(t)
	ctx := t.Context()

	datasetID := seedDataset(t, pg, []schema.Row{{"Region": "North", "Sales": float64(1)}})

	require.NoError(t, pg.DeleteDataset(ctx, datasetID))
	require.ErrorIs(t, pg.DeleteDataset(ctx, datasetID), store.ErrNotFound)

	fields, err := pg.FieldsByDataset(ctx, datasetID)
	require.NoError(t, err)
	require.Empty(t, fields)

	_, total, err := pg.Rows(ctx, datasetID, 10, 0)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestPostgres_Dashboards(t *testing.T) {
	pg := newPostgresStore(t)
	ctx := t.Context()

	datasetID := seedDataset(t, pg, []schema.Row{{"Region": "North", "Sales": float64(1)}})
	fields, err := pg.FieldsByDataset(ctx, datasetID)
	require.NoError(t, err)

	dashboard := &store.Dashboard{
		ID: uuid.New(), DatasetID: datasetID, Title: "sales Dashboard", Description: "Auto-generated dashboard",
	}
	require.NoError(t, pg.CreateDashboard(ctx, dashboard))

	chart := &store.Chart{
		ID: uuid.New(), DashboardID: dashboard.ID, Title: "Sales by Region", ChartType: "bar",
		DimensionFieldID: fields[0].ID, MeasureFieldID: fields[1].ID, Aggregation: "sum",
		Options: map[string]any{"color": "#3b82f6"},
	}
	require.NoError(t, pg.CreateChart(ctx, chart))

	filter := &store.Filter{
		ID: uuid.New(), DashboardID: dashboard.ID, FieldID: fields[0].ID, FilterType: "value",
		Config: map[string]any{"multi": true}, DefaultValue: []any{},
	}
	require.NoError(t, pg.CreateFilter(ctx, filter))
	require.NoError(t, pg.LinkChartFilter(ctx, &store.ChartFilter{
		ChartID: chart.ID, FilterID: filter.ID, Mode: "include",
	}))

	detail, err := pg.Dashboard(ctx, dashboard.ID)
	require.NoError(t, err)
	require.Equal(t, "sales Dashboard", detail.Title)
	require.Len(t, detail.Charts, 1)
	require.Equal(t, map[string]any{"color": "#3b82f6"}, detail.Charts[0].Options)
	require.Len(t, detail.Charts[0].Filters, 1)
	require.Equal(t, map[string]any{"multi": true}, detail.Charts[0].Filters[0].Config)

	_, err = pg.Dashboard(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgres_Uploads(t *testing.T) {
	pg := newPostgresStore(t)
	ctx := t.Context()

	upload := &store.Upload{
		ID: uuid.New(), Filename: "sales.csv", SizeBytes: 1234, Status: store.UploadStatusPending,
	}
	require.NoError(t, pg.CreateUpload(ctx, upload))
	require.False(t, upload.CreatedAt.IsZero())

	datasetID := seedDataset(t, pg, []schema.Row{{"Region": "North", "Sales": float64(1)}})
	upload.Status = store.UploadStatusCompleted
	upload.DatasetID = &datasetID
	require.NoError(t, pg.UpdateUpload(ctx, upload))

	got, err := pg.Upload(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, store.UploadStatusCompleted, got.Status)
	require.NotNil(t, got.DatasetID)
	require.Equal(t, datasetID, *got.DatasetID)

	require.ErrorIs(t, pg.UpdateUpload(ctx, &store.Upload{ID: uuid.New()}), store.ErrNotFound)
}
