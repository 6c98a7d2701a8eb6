// Package store persists datasets, their inferred field schemas, their
// schema-less rows, and the dashboards generated over them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/datalens-labs/datalens/pkg/schema"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Dataset owns an ordered set of fields and a collection of rows.
type Dataset struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	SourceFilename string    `json:"source_filename"`
	RowCount       int64     `json:"row_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Field is a persisted inferred column schema.
type Field struct {
	ID        uuid.UUID `json:"id"`
	DatasetID uuid.UUID `json:"dataset_id"`
	schema.Field
}

// RowRecord is one stored row with its envelope.
type RowRecord struct {
	ID        int64      `json:"id"`
	DatasetID uuid.UUID  `json:"dataset_id"`
	Data      schema.Row `json:"row_data"`
	CreatedAt time.Time  `json:"created_at"`
}

// RowFilter restricts queried rows by field value. A scalar value requires
// equality; a []any value requires set membership. Nil values are ignored
// (no filter applied for that field).
type RowFilter map[string]any

// RowIterator streams matching rows. Callers must Close it and check Err
// after iteration.
type RowIterator interface {
	Next() bool
	Row() schema.Row
	Err() error
	Close()
}

// Dashboard is an auto-generated set of charts over one dataset.
type Dashboard struct {
	ID          uuid.UUID `json:"id"`
	DatasetID   uuid.UUID `json:"dataset_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chart is one dimension/measure/aggregation triple with a presentation type.
type Chart struct {
	ID               uuid.UUID      `json:"id"`
	DashboardID      uuid.UUID      `json:"dashboard_id"`
	Title            string         `json:"title"`
	ChartType        string         `json:"chart_type"`
	DimensionFieldID uuid.UUID      `json:"dimension_field_id"`
	MeasureFieldID   uuid.UUID      `json:"measure_field_id"`
	Aggregation      string         `json:"aggregation"`
	Options          map[string]any `json:"options"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Filter is a dashboard-level value filter over one field.
type Filter struct {
	ID           uuid.UUID      `json:"id"`
	DashboardID  uuid.UUID      `json:"dashboard_id"`
	FieldID      uuid.UUID      `json:"field_id"`
	FilterType   string         `json:"filter_type"`
	Config       map[string]any `json:"config"`
	DefaultValue []any          `json:"default_value"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ChartFilter attaches a filter to a chart in include or exclude mode.
type ChartFilter struct {
	ChartID  uuid.UUID `json:"chart_id"`
	FilterID uuid.UUID `json:"filter_id"`
	Mode     string    `json:"mode"`
}

// ChartDetail is a chart together with its attached filters.
type ChartDetail struct {
	Chart
	Filters []Filter `json:"filters"`
}

// DashboardDetail is a dashboard together with its charts.
type DashboardDetail struct {
	Dashboard
	Charts []ChartDetail `json:"charts"`
}

// Upload statuses.
const (
	UploadStatusPending   = "pending"
	UploadStatusCompleted = "completed"
	UploadStatusFailed    = "failed"
)

// Upload is the audit record of one file ingestion attempt.
type Upload struct {
	ID        uuid.UUID  `json:"id"`
	Filename  string     `json:"filename"`
	SizeBytes int64      `json:"size_bytes"`
	Status    string     `json:"status"`
	Error     *string    `json:"error,omitempty"`
	DatasetID *uuid.UUID `json:"dataset_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store is the persistence boundary consumed by the ingestion, aggregation,
// and visualization components. Implementations must keep FieldsByDataset
// ordered by ordinal position and may satisfy InsertRows partially (the
// returned count is authoritative).
type Store interface {
	Ping(ctx context.Context) error

	CreateDataset(ctx context.Context, d *Dataset) error
	Datasets(ctx context.Context) ([]Dataset, error)
	Dataset(ctx context.Context, id uuid.UUID) (*Dataset, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error

	InsertFields(ctx context.Context, fields []Field) error
	FieldsByDataset(ctx context.Context, datasetID uuid.UUID) ([]Field, error)

	InsertRows(ctx context.Context, datasetID uuid.UUID, rows []schema.Row) (int, error)
	QueryRows(ctx context.Context, datasetID uuid.UUID, filter RowFilter) (RowIterator, error)
	Rows(ctx context.Context, datasetID uuid.UUID, limit, offset int) ([]RowRecord, int64, error)

	CreateDashboard(ctx context.Context, d *Dashboard) error
	Dashboards(ctx context.Context) ([]Dashboard, error)
	Dashboard(ctx context.Context, id uuid.UUID) (*DashboardDetail, error)
	CreateChart(ctx context.Context, c *Chart) error
	CreateFilter(ctx context.Context, f *Filter) error
	LinkChartFilter(ctx context.Context, link *ChartFilter) error

	CreateUpload(ctx context.Context, u *Upload) error
	UpdateUpload(ctx context.Context, u *Upload) error
	Uploads(ctx context.Context) ([]Upload, error)
	Upload(ctx context.Context, id uuid.UUID) (*Upload, error)
}
