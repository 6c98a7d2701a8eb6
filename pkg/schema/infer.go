package schema

import (
	"runtime"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSampleSize is the number of leading rows profiled per column.
	// distinctCount and topValues are computed over the sample, not the full
	// dataset; the approximation is an accuracy/performance trade-off.
	DefaultSampleSize = 200

	// classifyThreshold is the fixed share of non-null sampled values that
	// must be date-like (or numeric-like) for a column to classify as
	// temporal (or numerical). Not configurable per call.
	classifyThreshold = 0.6

	maxTopValues = 5
)

// Infer classifies each header's column from a sample of rows and returns one
// Field per header, in header order. Columns are profiled independently, so
// the per-column work runs concurrently; results are identical to serial
// execution. Zero headers or zero rows yield an empty (or all-categorical)
// field list rather than an error.
func Infer(headers []string, rows []Row, sampleSize int) []Field {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	sample := rows
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}

	fields := make([]Field, len(headers))
	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for i, h := range headers {
		g.Go(func() error {
			p := newColumnProfile()
			for _, r := range sample {
				p.record(r[h])
			}
			fields[i] = p.field(h, i)
			return nil
		})
	}
	_ = g.Wait() // column profiling does not fail

	return fields
}

// columnProfile accumulates per-column statistics over the sampled values.
type columnProfile struct {
	nonNull int
	nums    int
	dates   int

	counts    map[string]int
	firstSeen map[string]int
	seq       int

	numMin, numMax   float64
	hasNum           bool
	dateMin, dateMax time.Time
	hasDate          bool
}

func newColumnProfile() *columnProfile {
	return &columnProfile{
		counts:    make(map[string]int),
		firstSeen: make(map[string]int),
	}
}

func (p *columnProfile) record(v any) {
	if v == nil {
		return
	}
	if s, ok := v.(string); ok && s == "" {
		return
	}
	p.nonNull++

	key := Stringify(v)
	if _, ok := p.counts[key]; !ok {
		p.firstSeen[key] = p.seq
		p.seq++
	}
	p.counts[key]++

	// Numeric-likeness and date-likeness are tested independently: a value
	// such as "2024" counts toward both ratios, and classification resolves
	// the tie (temporal is checked first).
	if n, ok := NumericValue(v); ok {
		p.nums++
		if !p.hasNum || n < p.numMin {
			p.numMin = n
		}
		if !p.hasNum || n > p.numMax {
			p.numMax = n
		}
		p.hasNum = true
	}
	if t, ok := DateValue(v); ok {
		p.dates++
		if !p.hasDate || t.Before(p.dateMin) {
			p.dateMin = t
		}
		if !p.hasDate || t.After(p.dateMax) {
			p.dateMax = t
		}
		p.hasDate = true
	}
}

func (p *columnProfile) field(name string, ordinal int) Field {
	f := Field{
		Name:            name,
		DisplayName:     name,
		OrdinalPosition: ordinal,
		Type:            Categorical,
		Nullable:        true,
	}

	var numRatio, dateRatio float64
	if p.nonNull > 0 {
		numRatio = float64(p.nums) / float64(p.nonNull)
		dateRatio = float64(p.dates) / float64(p.nonNull)
	}

	switch {
	case dateRatio >= classifyThreshold:
		f.Type = Temporal
		if p.hasDate {
			f.MinValue = strPtr(p.dateMin.UTC().Format(isoMillis))
			f.MaxValue = strPtr(p.dateMax.UTC().Format(isoMillis))
		}
	case numRatio >= classifyThreshold:
		f.Type = Numerical
		if p.hasNum {
			f.MinValue = strPtr(formatNumber(p.numMin))
			f.MaxValue = strPtr(formatNumber(p.numMax))
		}
	}

	f.DistinctCount = len(p.counts)
	f.TopValues = p.topValues()
	return f
}

// topValues returns the most frequent sampled values, count descending, ties
// broken by first-seen order.
func (p *columnProfile) topValues() []TopValue {
	type entry struct {
		value string
		count int
		seen  int
	}
	entries := make([]entry, 0, len(p.counts))
	for v, c := range p.counts {
		entries = append(entries, entry{value: v, count: c, seen: p.firstSeen[v]})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].seen < entries[j].seen
	})
	if len(entries) > maxTopValues {
		entries = entries[:maxTopValues]
	}
	top := make([]TopValue, len(entries))
	for i, e := range entries {
		top[i] = TopValue{Value: e.value, Count: e.count}
	}
	return top
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func strPtr(s string) *string {
	return &s
}
