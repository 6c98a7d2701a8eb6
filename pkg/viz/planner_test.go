package viz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/datalens-labs/datalens/pkg/schema"
	"github.com/datalens-labs/datalens/pkg/store"
	"github.com/datalens-labs/datalens/pkg/testutil"
)

func TestViz_BuildPlan(t *testing.T) {
	t.Parallel()

	t.Run("categorical plus numerical yields bar and pie with filter", func(t *testing.T) {
		t.Parallel()
		plan := BuildPlan([]schema.Field{
			{Name: "Region", DisplayName: "Region", OrdinalPosition: 0, Type: schema.Categorical},
			{Name: "Sales", DisplayName: "Sales", OrdinalPosition: 1, Type: schema.Numerical},
		})
		require.Len(t, plan.Charts, 2)
		require.Equal(t, ChartBar, plan.Charts[0].Type)
		require.Equal(t, "Sales by Region", plan.Charts[0].Title)
		require.Equal(t, ChartPie, plan.Charts[1].Type)
		require.Equal(t, "Share of Sales by Region", plan.Charts[1].Title)

		require.Len(t, plan.Filters, 1)
		require.Equal(t, "Region", plan.Filters[0].Field)
		require.True(t, plan.Filters[0].Multi)
		require.Equal(t, FilterModeInclude, plan.Filters[0].Mode)
	})

	t.Run("temporal plus numerical yields line", func(t *testing.T) {
		t.Parallel()
		plan := BuildPlan([]schema.Field{
			{Name: "Date", OrdinalPosition: 0, Type: schema.Temporal},
			{Name: "Sales", OrdinalPosition: 1, Type: schema.Numerical},
		})
		require.Len(t, plan.Charts, 1)
		require.Equal(t, ChartLine, plan.Charts[0].Type)
		require.Equal(t, "Sales over time", plan.Charts[0].Title)
		require.Empty(t, plan.Filters)
	})

	t.Run("all three types yields three charts", func(t *testing.T) {
		t.Parallel()
		plan := BuildPlan([]schema.Field{
			{Name: "Region", OrdinalPosition: 0, Type: schema.Categorical},
			{Name: "Sales", OrdinalPosition: 1, Type: schema.Numerical},
			{Name: "Date", OrdinalPosition: 2, Type: schema.Temporal},
		})
		require.Len(t, plan.Charts, 3)
		require.Equal(t, []string{ChartBar, ChartLine, ChartPie},
			[]string{plan.Charts[0].Type, plan.Charts[1].Type, plan.Charts[2].Type})
	})

	t.Run("first field by ordinal position wins", func(t *testing.T) {
		t.Parallel()
		// Fields arrive out of order; ordinal position decides.
		plan := BuildPlan([]schema.Field{
			{Name: "City", OrdinalPosition: 2, Type: schema.Categorical},
			{Name: "Region", OrdinalPosition: 0, Type: schema.Categorical},
			{Name: "Sales", OrdinalPosition: 1, Type: schema.Numerical},
		})
		require.Equal(t, "Region", plan.Charts[0].DimensionField)
		require.Equal(t, "Region", plan.Filters[0].Field)
	})

	t.Run("numerical only yields nothing", func(t *testing.T) {
		t.Parallel()
		plan := BuildPlan([]schema.Field{
			{Name: "Sales", OrdinalPosition: 0, Type: schema.Numerical},
		})
		require.Empty(t, plan.Charts)
		require.Empty(t, plan.Filters)
	})
}

func TestViz_AutoVisualize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	datasetID := uuid.New()
	require.NoError(t, mem.CreateDataset(ctx, &store.Dataset{ID: datasetID, Name: "sales"}))
	require.NoError(t, mem.InsertFields(ctx, []store.Field{
		{ID: uuid.New(), DatasetID: datasetID, Field: schema.Field{Name: "Region", OrdinalPosition: 0, Type: schema.Categorical}},
		{ID: uuid.New(), DatasetID: datasetID, Field: schema.Field{Name: "Sales", OrdinalPosition: 1, Type: schema.Numerical}},
	}))

	svc, err := NewService(Config{Logger: testutil.NewLogger(), Store: mem})
	require.NoError(t, err)

	res, err := svc.AutoVisualize(ctx, datasetID)
	require.NoError(t, err)
	require.Equal(t, 2, res.ChartCount)

	detail, err := mem.Dashboard(ctx, res.DashboardID)
	require.NoError(t, err)
	require.Equal(t, "sales Dashboard", detail.Title)
	require.Len(t, detail.Charts, 2)

	// The default Region filter is attached to both charts in include mode.
	for _, chart := range detail.Charts {
		require.Len(t, chart.Filters, 1)
		require.Equal(t, "value", chart.Filters[0].FilterType)
		require.Equal(t, map[string]any{"multi": true}, chart.Filters[0].Config)
		require.Empty(t, chart.Filters[0].DefaultValue)
	}
}
