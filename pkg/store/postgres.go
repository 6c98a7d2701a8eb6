package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver with database/sql for goose
	"github.com/pressly/goose/v3"

	"github.com/datalens-labs/datalens/pkg/schema"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// insertRowsBatchSize bounds one round trip of row inserts.
const insertRowsBatchSize = 500

// PgConfig holds the PostgreSQL connection configuration.
type PgConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

func (c *PgConfig) Validate() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == "" {
		c.Port = "5432"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.Database == "" {
		return errors.New("postgres database is required")
	}
	if c.Username == "" {
		return errors.New("postgres username is required")
	}
	return nil
}

// ConnString renders the configuration as a postgres URL.
func (c *PgConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// NewPool creates and pings a pgx connection pool for the given config.
func NewPool(ctx context.Context, cfg PgConfig) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(log *slog.Logger, connStr string) error {
	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("postgres migrations applied")
	return nil
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Postgres persists datasets in PostgreSQL, with rows as JSONB documents.
type Postgres struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Postgres{log: cfg.Logger, pool: cfg.Pool}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) CreateDataset(ctx context.Context, d *Dataset) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO datasets (id, name, source_filename, row_count)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		d.ID, d.Name, d.SourceFilename, d.RowCount,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

func (p *Postgres) Datasets(ctx context.Context) ([]Dataset, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, source_filename, row_count, created_at
		 FROM datasets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.SourceFilename, &d.RowCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) Dataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	var d Dataset
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, source_filename, row_count, created_at
		 FROM datasets WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.SourceFilename, &d.RowCount, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset: %w", err)
	}
	return &d, nil
}

func (p *Postgres) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertFields(ctx context.Context, fields []Field) error {
	batch := &pgx.Batch{}
	for _, f := range fields {
		topValues, err := json.Marshal(f.TopValues)
		if err != nil {
			return fmt.Errorf("failed to encode top values for %s: %w", f.Name, err)
		}
		batch.Queue(
			`INSERT INTO dataset_fields
			 (id, dataset_id, field_name, display_name, ordinal_position,
			  inferred_type, is_nullable, distinct_count, min_value, max_value, top_values)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			f.ID, f.DatasetID, f.Name, f.DisplayName, f.OrdinalPosition,
			string(f.Type), f.Nullable, f.DistinctCount, f.MinValue, f.MaxValue, topValues,
		)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert fields: %w", err)
	}
	return nil
}

func (p *Postgres) FieldsByDataset(ctx context.Context, datasetID uuid.UUID) ([]Field, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, dataset_id, field_name, display_name, ordinal_position,
		        inferred_type, is_nullable, distinct_count, min_value, max_value, top_values
		 FROM dataset_fields WHERE dataset_id = $1 ORDER BY ordinal_position`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()

	var out []Field
	for rows.Next() {
		var f Field
		var fieldType string
		var topValues []byte
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.Name, &f.DisplayName, &f.OrdinalPosition,
			&fieldType, &f.Nullable, &f.DistinctCount, &f.MinValue, &f.MaxValue, &topValues); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		f.Type = schema.FieldType(fieldType)
		if err := json.Unmarshal(topValues, &f.TopValues); err != nil {
			return nil, fmt.Errorf("failed to decode top values for %s: %w", f.Name, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// InsertRows inserts rows in batches and returns how many were written.
// Partial success is allowed: a failure mid-way returns the count of rows
// already persisted alongside the error.
func (p *Postgres) InsertRows(ctx context.Context, datasetID uuid.UUID, rows []schema.Row) (int, error) {
	inserted := 0
	for start := 0; start < len(rows); start += insertRowsBatchSize {
		end := start + insertRowsBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := &pgx.Batch{}
		for _, r := range rows[start:end] {
			data, err := json.Marshal(r)
			if err != nil {
				return inserted, fmt.Errorf("failed to encode row: %w", err)
			}
			batch.Queue(`INSERT INTO dataset_rows (dataset_id, row_data) VALUES ($1, $2)`, datasetID, data)
		}
		if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
			return inserted, fmt.Errorf("failed to insert rows: %w", err)
		}
		inserted += end - start
	}
	return inserted, nil
}

// QueryRows streams rows matching the filter. Scalar filter values push down
// as typed JSONB containment; slice values as set membership. Nil filter
// values are ignored.
func (p *Postgres) QueryRows(ctx context.Context, datasetID uuid.UUID, filter RowFilter) (RowIterator, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT row_data FROM dataset_rows WHERE dataset_id = $1`)
	args := []any{datasetID}

	for field, want := range filter {
		if want == nil {
			continue
		}
		if set, isSet := want.([]any); isSet {
			setJSON, err := json.Marshal(set)
			if err != nil {
				return nil, fmt.Errorf("failed to encode filter set for %s: %w", field, err)
			}
			args = append(args, setJSON)
			setArg := len(args)
			args = append(args, field)
			keyArg := len(args)
			fmt.Fprintf(&sb,
				` AND EXISTS (SELECT 1 FROM jsonb_array_elements($%d::jsonb) e WHERE e = row_data -> $%d::text)`,
				setArg, keyArg)
			continue
		}
		predicate, err := json.Marshal(map[string]any{field: want})
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter for %s: %w", field, err)
		}
		args = append(args, predicate)
		fmt.Fprintf(&sb, ` AND row_data @> $%d::jsonb`, len(args))
	}

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	return &pgxRowIterator{rows: rows}, nil
}

func (p *Postgres) Rows(ctx context.Context, datasetID uuid.UUID, limit, offset int) ([]RowRecord, int64, error) {
	var total int64
	if err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM dataset_rows WHERE dataset_id = $1`, datasetID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count rows: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, dataset_id, row_data, created_at
		 FROM dataset_rows WHERE dataset_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		datasetID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []RowRecord
	for rows.Next() {
		var rec RowRecord
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.DatasetID, &data, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, 0, fmt.Errorf("failed to decode row data: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (p *Postgres) CreateDashboard(ctx context.Context, d *Dashboard) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO dashboards (id, dataset_id, title, description)
		 VALUES ($1, $2, $3, $4) RETURNING created_at`,
		d.ID, d.DatasetID, d.Title, d.Description,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dashboard: %w", err)
	}
	return nil
}

func (p *Postgres) Dashboards(ctx context.Context) ([]Dashboard, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, dataset_id, title, description, created_at
		 FROM dashboards ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dashboards: %w", err)
	}
	defer rows.Close()

	var out []Dashboard
	for rows.Next() {
		var d Dashboard
		if err := rows.Scan(&d.ID, &d.DatasetID, &d.Title, &d.Description, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dashboard: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) Dashboard(ctx context.Context, id uuid.UUID) (*DashboardDetail, error) {
	var detail DashboardDetail
	err := p.pool.QueryRow(ctx,
		`SELECT id, dataset_id, title, description, created_at
		 FROM dashboards WHERE id = $1`, id,
	).Scan(&detail.ID, &detail.DatasetID, &detail.Title, &detail.Description, &detail.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dashboard: %w", err)
	}

	charts, err := p.chartsByDashboard(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Charts = charts
	return &detail, nil
}

func (p *Postgres) chartsByDashboard(ctx context.Context, dashboardID uuid.UUID) ([]ChartDetail, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, dashboard_id, title, chart_type, dimension_field_id,
		        measure_field_id, aggregation, options, created_at
		 FROM charts WHERE dashboard_id = $1 ORDER BY created_at, id`, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query charts: %w", err)
	}
	defer rows.Close()

	var charts []ChartDetail
	for rows.Next() {
		var c ChartDetail
		var options []byte
		if err := rows.Scan(&c.ID, &c.DashboardID, &c.Title, &c.ChartType, &c.DimensionFieldID,
			&c.MeasureFieldID, &c.Aggregation, &options, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chart: %w", err)
		}
		if err := json.Unmarshal(options, &c.Options); err != nil {
			return nil, fmt.Errorf("failed to decode chart options: %w", err)
		}
		charts = append(charts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range charts {
		filters, err := p.filtersByChart(ctx, charts[i].ID)
		if err != nil {
			return nil, err
		}
		charts[i].Filters = filters
	}
	return charts, nil
}

func (p *Postgres) filtersByChart(ctx context.Context, chartID uuid.UUID) ([]Filter, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT f.id, f.dashboard_id, f.field_id, f.filter_type, f.config, f.default_value, f.created_at
		 FROM filters f
		 JOIN chart_filters cf ON cf.filter_id = f.id
		 WHERE cf.chart_id = $1 ORDER BY f.created_at, f.id`, chartID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chart filters: %w", err)
	}
	defer rows.Close()

	var out []Filter
	for rows.Next() {
		var f Filter
		var config, defaultValue []byte
		if err := rows.Scan(&f.ID, &f.DashboardID, &f.FieldID, &f.FilterType, &config, &defaultValue, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filter: %w", err)
		}
		if err := json.Unmarshal(config, &f.Config); err != nil {
			return nil, fmt.Errorf("failed to decode filter config: %w", err)
		}
		if err := json.Unmarshal(defaultValue, &f.DefaultValue); err != nil {
			return nil, fmt.Errorf("failed to decode filter default: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateChart(ctx context.Context, c *Chart) error {
	options, err := json.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("failed to encode chart options: %w", err)
	}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO charts
		 (id, dashboard_id, title, chart_type, dimension_field_id, measure_field_id, aggregation, options)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		c.ID, c.DashboardID, c.Title, c.ChartType, c.DimensionFieldID, c.MeasureFieldID, c.Aggregation, options,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create chart: %w", err)
	}
	return nil
}

func (p *Postgres) CreateFilter(ctx context.Context, f *Filter) error {
	config, err := json.Marshal(f.Config)
	if err != nil {
		return fmt.Errorf("failed to encode filter config: %w", err)
	}
	defaultValue, err := json.Marshal(f.DefaultValue)
	if err != nil {
		return fmt.Errorf("failed to encode filter default: %w", err)
	}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO filters (id, dashboard_id, field_id, filter_type, config, default_value)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		f.ID, f.DashboardID, f.FieldID, f.FilterType, config, defaultValue,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}
	return nil
}

func (p *Postgres) LinkChartFilter(ctx context.Context, link *ChartFilter) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO chart_filters (chart_id, filter_id, mode) VALUES ($1, $2, $3)`,
		link.ChartID, link.FilterID, link.Mode)
	if err != nil {
		return fmt.Errorf("failed to link chart filter: %w", err)
	}
	return nil
}

func (p *Postgres) CreateUpload(ctx context.Context, u *Upload) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO uploads (id, filename, size_bytes, status, error, dataset_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		u.ID, u.Filename, u.SizeBytes, u.Status, u.Error, u.DatasetID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateUpload(ctx context.Context, u *Upload) error {
	err := p.pool.QueryRow(ctx,
		`UPDATE uploads SET status = $2, error = $3, dataset_id = $4, updated_at = now()
		 WHERE id = $1 RETURNING updated_at`,
		u.ID, u.Status, u.Error, u.DatasetID,
	).Scan(&u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update upload: %w", err)
	}
	return nil
}

func (p *Postgres) Uploads(ctx context.Context) ([]Upload, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, filename, size_bytes, status, error, dataset_id, created_at, updated_at
		 FROM uploads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.Filename, &u.SizeBytes, &u.Status, &u.Error, &u.DatasetID,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *Postgres) Upload(ctx context.Context, id uuid.UUID) (*Upload, error) {
	var u Upload
	err := p.pool.QueryRow(ctx,
		`SELECT id, filename, size_bytes, status, error, dataset_id, created_at, updated_at
		 FROM uploads WHERE id = $1`, id,
	).Scan(&u.ID, &u.Filename, &u.SizeBytes, &u.Status, &u.Error, &u.DatasetID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query upload: %w", err)
	}
	return &u, nil
}

// pgxRowIterator adapts pgx.Rows to RowIterator, decoding JSONB documents.
type pgxRowIterator struct {
	rows pgx.Rows
	cur  schema.Row
	err  error
}

func (it *pgxRowIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		return false
	}
	var data []byte
	if err := it.rows.Scan(&data); err != nil {
		it.err = fmt.Errorf("failed to scan row: %w", err)
		return false
	}
	var row schema.Row
	if err := json.Unmarshal(data, &row); err != nil {
		it.err = fmt.Errorf("failed to decode row data: %w", err)
		return false
	}
	it.cur = row
	return true
}

func (it *pgxRowIterator) Row() schema.Row { return it.cur }

func (it *pgxRowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *pgxRowIterator) Close() { it.rows.Close() }
