package viz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/datalens-labs/datalens/pkg/schema"
	"github.com/datalens-labs/datalens/pkg/store"
)

// DashboardStore is the slice of the store the service needs to persist a
// generated dashboard.
type DashboardStore interface {
	Dataset(ctx context.Context, id uuid.UUID) (*store.Dataset, error)
	FieldsByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.Field, error)
	CreateDashboard(ctx context.Context, d *store.Dashboard) error
	CreateChart(ctx context.Context, c *store.Chart) error
	CreateFilter(ctx context.Context, f *store.Filter) error
	LinkChartFilter(ctx context.Context, link *store.ChartFilter) error
}

// Config configures the visualization service.
type Config struct {
	Logger *slog.Logger
	Store  DashboardStore
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

// Service persists the dashboards produced by BuildPlan.
type Service struct {
	log *slog.Logger
	cfg Config
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{log: cfg.Logger, cfg: cfg}, nil
}

// Result summarizes a generated dashboard.
type Result struct {
	DashboardID uuid.UUID `json:"id"`
	ChartCount  int       `json:"chart_count"`
}

// AutoVisualize plans charts over the dataset's fields and persists the
// dashboard, its charts, its default filter, and the chart-filter links.
func (s *Service) AutoVisualize(ctx context.Context, datasetID uuid.UUID) (*Result, error) {
	fields, err := s.cfg.Store.FieldsByDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fields: %w", err)
	}
	fieldIDs := make(map[string]uuid.UUID, len(fields))
	bare := make([]schema.Field, len(fields))
	for i, f := range fields {
		fieldIDs[f.Name] = f.ID
		bare[i] = f.Field
	}

	datasetName := "Dataset"
	if ds, err := s.cfg.Store.Dataset(ctx, datasetID); err == nil && ds.Name != "" {
		datasetName = ds.Name
	}

	dashboard := &store.Dashboard{
		ID:          uuid.New(),
		DatasetID:   datasetID,
		Title:       fmt.Sprintf("%s Dashboard", datasetName),
		Description: "Auto-generated dashboard",
	}
	if err := s.cfg.Store.CreateDashboard(ctx, dashboard); err != nil {
		return nil, fmt.Errorf("failed to create dashboard: %w", err)
	}

	plan := BuildPlan(bare)

	charts := make([]*store.Chart, 0, len(plan.Charts))
	for _, spec := range plan.Charts {
		chart := &store.Chart{
			ID:               uuid.New(),
			DashboardID:      dashboard.ID,
			Title:            spec.Title,
			ChartType:        spec.Type,
			DimensionFieldID: fieldIDs[spec.DimensionField],
			MeasureFieldID:   fieldIDs[spec.MeasureField],
			Aggregation:      spec.Aggregation,
			Options:          spec.Options,
		}
		if err := s.cfg.Store.CreateChart(ctx, chart); err != nil {
			return nil, fmt.Errorf("failed to create chart: %w", err)
		}
		charts = append(charts, chart)
	}

	for _, spec := range plan.Filters {
		filter := &store.Filter{
			ID:           uuid.New(),
			DashboardID:  dashboard.ID,
			FieldID:      fieldIDs[spec.Field],
			FilterType:   spec.FilterType,
			Config:       map[string]any{"multi": spec.Multi},
			DefaultValue: []any{},
		}
		if err := s.cfg.Store.CreateFilter(ctx, filter); err != nil {
			return nil, fmt.Errorf("failed to create filter: %w", err)
		}
		for _, chart := range charts {
			link := &store.ChartFilter{ChartID: chart.ID, FilterID: filter.ID, Mode: spec.Mode}
			if err := s.cfg.Store.LinkChartFilter(ctx, link); err != nil {
				return nil, fmt.Errorf("failed to link chart filter: %w", err)
			}
		}
	}

	s.log.Debug("auto-visualization complete",
		"dataset", datasetID, "dashboard", dashboard.ID, "charts", len(charts))

	return &Result{DashboardID: dashboard.ID, ChartCount: len(charts)}, nil
}
