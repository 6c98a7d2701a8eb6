// Package ingest turns parsed tabular files into persisted datasets with
// inferred schemas and auto-generated dashboards.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/datalens-labs/datalens/pkg/schema"
	"github.com/datalens-labs/datalens/pkg/store"
	"github.com/datalens-labs/datalens/pkg/viz"
)

// DatasetStore is the slice of the store ingestion writes to.
type DatasetStore interface {
	CreateDataset(ctx context.Context, d *store.Dataset) error
	InsertFields(ctx context.Context, fields []store.Field) error
	InsertRows(ctx context.Context, datasetID uuid.UUID, rows []schema.Row) (int, error)
}

// Config configures the ingester.
type Config struct {
	Logger     *slog.Logger
	Store      DatasetStore
	Visualizer *viz.Service
	// SampleSize bounds how many leading rows the inferencer profiles.
	// Zero means schema.DefaultSampleSize.
	SampleSize int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Visualizer == nil {
		return errors.New("visualizer is required")
	}
	return nil
}

// Ingester runs the ingestion pipeline: infer schema, persist fields before
// rows, then auto-visualize. Fields are always persisted before rows; a
// failure partway through row insertion leaves a complete schema with a
// partial row set.
type Ingester struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Ingester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ingester{log: cfg.Logger, cfg: cfg}, nil
}

// Result reports what one ingestion produced.
type Result struct {
	DatasetID     uuid.UUID   `json:"dataset_id"`
	FieldsCreated int         `json:"fields_created"`
	RowsInserted  int         `json:"rows_inserted"`
	Dashboard     *viz.Result `json:"dashboard"`
}

// Ingest persists one parsed file as a dataset.
func (i *Ingester) Ingest(ctx context.Context, name, filename string, headers []string, rows []schema.Row) (*Result, error) {
	inferred := schema.Infer(headers, rows, i.cfg.SampleSize)

	dataset := &store.Dataset{
		ID:             uuid.New(),
		Name:           name,
		SourceFilename: filename,
		RowCount:       int64(len(rows)),
	}
	if err := i.cfg.Store.CreateDataset(ctx, dataset); err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}

	fields := make([]store.Field, len(inferred))
	for idx, f := range inferred {
		fields[idx] = store.Field{ID: uuid.New(), DatasetID: dataset.ID, Field: f}
	}
	if err := i.cfg.Store.InsertFields(ctx, fields); err != nil {
		return nil, fmt.Errorf("failed to insert fields: %w", err)
	}

	inserted, err := i.cfg.Store.InsertRows(ctx, dataset.ID, rows)
	if err != nil {
		// Schema is complete; the row set is partial. Surface the failure
		// with the count that did land.
		i.log.Warn("partial row insertion", "dataset", dataset.ID, "inserted", inserted, "total", len(rows), "error", err)
		return nil, fmt.Errorf("failed to insert rows (%d of %d written): %w", inserted, len(rows), err)
	}

	dashboard, err := i.cfg.Visualizer.AutoVisualize(ctx, dataset.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-visualize: %w", err)
	}

	i.log.Info("dataset ingested",
		"dataset", dataset.ID, "name", name, "fields", len(fields), "rows", inserted, "charts", dashboard.ChartCount)

	return &Result{
		DatasetID:     dataset.ID,
		FieldsCreated: len(fields),
		RowsInserted:  inserted,
		Dashboard:     dashboard,
	}, nil
}
