package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datalens-labs/datalens/pkg/schema"
)

// Memory is an in-process Store used by tests and local development. Filter
// semantics match the Postgres implementation: typed equality for scalars,
// membership for slices, nil filter values ignored.
type Memory struct {
	mu sync.RWMutex

	datasets   []Dataset
	fields     map[uuid.UUID][]Field
	rows       map[uuid.UUID][]RowRecord
	nextRowID  int64
	dashboards []Dashboard
	charts     map[uuid.UUID][]Chart
	filters    map[uuid.UUID][]Filter
	chartLinks map[uuid.UUID][]ChartFilter
	uploads    []Upload
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		fields:     make(map[uuid.UUID][]Field),
		rows:       make(map[uuid.UUID][]RowRecord),
		charts:     make(map[uuid.UUID][]Chart),
		filters:    make(map[uuid.UUID][]Filter),
		chartLinks: make(map[uuid.UUID][]ChartFilter),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateDataset(ctx context.Context, d *Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.datasets = append(m.datasets, *d)
	return nil
}

func (m *Memory) Datasets(ctx context.Context) ([]Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Dataset, len(m.datasets))
	copy(out, m.datasets)
	// Newest first, matching the Postgres ordering.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Dataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.datasets {
		if d.ID == id {
			out := d
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.datasets[:0]
	found := false
	for _, d := range m.datasets {
		if d.ID == id {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	m.datasets = kept
	if !found {
		return ErrNotFound
	}
	delete(m.fields, id)
	delete(m.rows, id)
	keptDash := m.dashboards[:0]
	for _, dash := range m.dashboards {
		if dash.DatasetID == id {
			delete(m.charts, dash.ID)
			delete(m.filters, dash.ID)
			continue
		}
		keptDash = append(keptDash, dash)
	}
	m.dashboards = keptDash
	return nil
}

func (m *Memory) InsertFields(ctx context.Context, fields []Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields {
		m.fields[f.DatasetID] = append(m.fields[f.DatasetID], f)
	}
	return nil
}

func (m *Memory) FieldsByDataset(ctx context.Context, datasetID uuid.UUID) ([]Field, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Field, len(m.fields[datasetID]))
	copy(out, m.fields[datasetID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrdinalPosition < out[j].OrdinalPosition })
	return out, nil
}

func (m *Memory) InsertRows(ctx context.Context, datasetID uuid.UUID, rows []schema.Row) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range rows {
		m.nextRowID++
		m.rows[datasetID] = append(m.rows[datasetID], RowRecord{
			ID:        m.nextRowID,
			DatasetID: datasetID,
			Data:      r,
			CreatedAt: now,
		})
	}
	return len(rows), nil
}

func (m *Memory) QueryRows(ctx context.Context, datasetID uuid.UUID, filter RowFilter) (RowIterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []schema.Row
	for _, rec := range m.rows[datasetID] {
		if matchesFilter(rec.Data, filter) {
			matched = append(matched, rec.Data)
		}
	}
	return &sliceIterator{rows: matched}, nil
}

func (m *Memory) Rows(ctx context.Context, datasetID uuid.UUID, limit, offset int) ([]RowRecord, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.rows[datasetID]
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]RowRecord, end-offset)
	copy(out, all[offset:end])
	return out, total, nil
}

func (m *Memory) CreateDashboard(ctx context.Context, d *Dashboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.dashboards = append(m.dashboards, *d)
	return nil
}

func (m *Memory) Dashboards(ctx context.Context) ([]Dashboard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Dashboard, len(m.dashboards))
	copy(out, m.dashboards)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Dashboard(ctx context.Context, id uuid.UUID) (*DashboardDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.dashboards {
		if d.ID != id {
			continue
		}
		detail := &DashboardDetail{Dashboard: d}
		filtersByID := make(map[uuid.UUID]Filter)
		for _, f := range m.filters[d.ID] {
			filtersByID[f.ID] = f
		}
		for _, c := range m.charts[d.ID] {
			cd := ChartDetail{Chart: c}
			for _, link := range m.chartLinks[c.ID] {
				if f, ok := filtersByID[link.FilterID]; ok {
					cd.Filters = append(cd.Filters, f)
				}
			}
			detail.Charts = append(detail.Charts, cd)
		}
		return detail, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateChart(ctx context.Context, c *Chart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.charts[c.DashboardID] = append(m.charts[c.DashboardID], *c)
	return nil
}

func (m *Memory) CreateFilter(ctx context.Context, f *Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	m.filters[f.DashboardID] = append(m.filters[f.DashboardID], *f)
	return nil
}

func (m *Memory) LinkChartFilter(ctx context.Context, link *ChartFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chartLinks[link.ChartID] = append(m.chartLinks[link.ChartID], *link)
	return nil
}

func (m *Memory) CreateUpload(ctx context.Context, u *Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.uploads = append(m.uploads, *u)
	return nil
}

func (m *Memory) UpdateUpload(ctx context.Context, u *Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.uploads {
		if m.uploads[i].ID == u.ID {
			u.UpdatedAt = time.Now().UTC()
			u.CreatedAt = m.uploads[i].CreatedAt
			m.uploads[i] = *u
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) Uploads(ctx context.Context) ([]Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Upload, len(m.uploads))
	copy(out, m.uploads)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Upload(ctx context.Context, id uuid.UUID) (*Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.uploads {
		if u.ID == id {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// matchesFilter applies equality / set-membership predicates to one row.
func matchesFilter(row schema.Row, filter RowFilter) bool {
	for field, want := range filter {
		if want == nil {
			continue
		}
		got, ok := row[field]
		if !ok {
			return false
		}
		if set, isSet := want.([]any); isSet {
			member := false
			for _, candidate := range set {
				if equalValues(got, candidate) {
					member = true
					break
				}
			}
			if !member {
				return false
			}
			continue
		}
		if !equalValues(got, want) {
			return false
		}
	}
	return true
}

// equalValues compares two raw scalars the way JSONB equality does: numbers
// compare numerically regardless of integer/float representation, everything
// else requires matching type and value.
func equalValues(a, b any) bool {
	an, aok := numericScalar(a)
	bn, bok := numericScalar(b)
	if aok && bok {
		return an == bn
	}
	if aok != bok {
		return false
	}
	return a == b
}

func numericScalar(v any) (float64, bool) {
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

type sliceIterator struct {
	rows []schema.Row
	idx  int
	cur  schema.Row
}

func (it *sliceIterator) Next() bool {
	if it.idx >= len(it.rows) {
		return false
	}
	it.cur = it.rows[it.idx]
	it.idx++
	return true
}

func (it *sliceIterator) Row() schema.Row { return it.cur }
func (it *sliceIterator) Err() error      { return nil }
func (it *sliceIterator) Close()          {}
