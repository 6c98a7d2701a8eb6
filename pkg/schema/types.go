// Package schema infers per-column field schemas from sampled raw row values.
package schema

// Row is one schema-less record of a dataset: a mapping from field name to a
// raw scalar value (string, float64, bool, or nil). Column sets vary per
// dataset, so rows are never modeled as a fixed structure.
type Row map[string]any

// FieldType classifies a dataset column.
type FieldType string

const (
	Categorical FieldType = "categorical"
	Numerical   FieldType = "numerical"
	Temporal    FieldType = "temporal"
)

// TopValue is one frequently occurring value within the sampled column.
type TopValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Field describes one inferred dataset column. Fields are created once at
// ingestion time from a sample of rows and are immutable thereafter.
type Field struct {
	Name            string     `json:"field_name"`
	DisplayName     string     `json:"display_name"`
	OrdinalPosition int        `json:"ordinal_position"`
	Type            FieldType  `json:"inferred_type"`
	Nullable        bool       `json:"is_nullable"`
	DistinctCount   int        `json:"distinct_count"`
	MinValue        *string    `json:"min_value,omitempty"`
	MaxValue        *string    `json:"max_value,omitempty"`
	TopValues       []TopValue `json:"top_values"`
}
