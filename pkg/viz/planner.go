// Package viz plans default charts and filters over a dataset's inferred
// fields and persists the generated dashboard.
package viz

import (
	"fmt"
	"sort"

	"github.com/datalens-labs/datalens/pkg/schema"
)

// Chart types.
const (
	ChartBar  = "bar"
	ChartLine = "line"
	ChartPie  = "pie"
)

// FilterModeInclude attaches a filter to a chart in include mode.
const FilterModeInclude = "include"

// ChartSpec is one planned dimension/measure/aggregation triple with a
// presentation type.
type ChartSpec struct {
	Type           string         `json:"type"`
	DimensionField string         `json:"dimension_field"`
	MeasureField   string         `json:"measure_field"`
	Aggregation    string         `json:"aggregation"`
	Title          string         `json:"title"`
	Options        map[string]any `json:"options"`
}

// FilterSpec is one planned dashboard filter, attached to every chart in the
// same planning pass.
type FilterSpec struct {
	Field      string `json:"field"`
	FilterType string `json:"filter_type"`
	Multi      bool   `json:"multi"`
	Mode       string `json:"mode"`
}

// Plan is the outcome of one planning pass.
type Plan struct {
	Charts  []ChartSpec  `json:"charts"`
	Filters []FilterSpec `json:"filters"`
}

// BuildPlan selects chart and filter specs from the inferred fields. The
// selection rules are evaluated independently: categorical+numerical yields
// a bar and a pie chart, temporal+numerical a line chart, and any
// categorical field one multi-select filter. "First field" means lowest
// ordinal position, so the plan is deterministic for a given field list.
func BuildPlan(fields []schema.Field) Plan {
	ordered := make([]schema.Field, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrdinalPosition < ordered[j].OrdinalPosition
	})

	categorical := firstOfType(ordered, schema.Categorical)
	numerical := firstOfType(ordered, schema.Numerical)
	temporal := firstOfType(ordered, schema.Temporal)

	var plan Plan
	if categorical != nil && numerical != nil {
		plan.Charts = append(plan.Charts, ChartSpec{
			Type:           ChartBar,
			DimensionField: categorical.Name,
			MeasureField:   numerical.Name,
			Aggregation:    "sum",
			Title:          fmt.Sprintf("%s by %s", displayName(numerical), displayName(categorical)),
			Options:        map[string]any{"color": "#3b82f6"},
		})
	}
	if temporal != nil && numerical != nil {
		plan.Charts = append(plan.Charts, ChartSpec{
			Type:           ChartLine,
			DimensionField: temporal.Name,
			MeasureField:   numerical.Name,
			Aggregation:    "sum",
			Title:          fmt.Sprintf("%s over time", displayName(numerical)),
			Options:        map[string]any{"color": "#10b981"},
		})
	}
	if categorical != nil && numerical != nil {
		plan.Charts = append(plan.Charts, ChartSpec{
			Type:           ChartPie,
			DimensionField: categorical.Name,
			MeasureField:   numerical.Name,
			Aggregation:    "sum",
			Title:          fmt.Sprintf("Share of %s by %s", displayName(numerical), displayName(categorical)),
			Options:        map[string]any{},
		})
	}
	if categorical != nil {
		plan.Filters = append(plan.Filters, FilterSpec{
			Field:      categorical.Name,
			FilterType: "value",
			Multi:      true,
			Mode:       FilterModeInclude,
		})
	}
	return plan
}

func firstOfType(fields []schema.Field, t schema.FieldType) *schema.Field {
	for i := range fields {
		if fields[i].Type == t {
			return &fields[i]
		}
	}
	return nil
}

func displayName(f *schema.Field) string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Name
}
