// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"

	"gvisor.dev/asidalloc/pkg/atomicbitops"
	"gvisor.dev/asidalloc/pkg/prometheus"
	"gvisor.dev/asidalloc/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name is not a valid Prometheus
	// metric name.
	ErrInvalidName = errors.New("metric name is not a valid Prometheus name")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// validName matches valid Prometheus metric and label names.
var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper provides multi-dimensional fields to a single unique integer key
type fieldMapper struct {
	// fields is a list of Field objects, which importantly include individual
	// Field names which are used to perform the keyToMultiField function; and
	// allowedValues for each field type which are used to perform the lookup
	// function.
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible field
	// combinations.
	numFieldCombinations int
}

// newFieldMapper returns a new fieldMapper for the given set of fields.
func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		// Disallow fields with no possible values. We could also ignore them
		// instead, but passing in a no-allowed-values field is probably a mistake.
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		if !validName.MatchString(f.name) {
			return fieldMapper{}, fmt.Errorf("%w: field %q", ErrInvalidName, f.name)
		}
		numFieldCombinations *= len(f.allowedValues)

		// Sanity check, could be useful in case someone dynamically generates too
		// many fields accidentally.
		if numFieldCombinations > math.MaxUint16 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}

	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup looks up a key within the fieldMapper.
//
// This *must* be called with the correct number of fields and allowed
// values, or it will panic.
func (m fieldMapper) lookup(fields ...string) int {
	if len(fields) != len(m.fields) {
		panic(fmt.Sprintf("invalid field lookup depth: got %d fields, want %d", len(fields), len(m.fields)))
	}
	idx := 0
	remainingCombinationBucket := m.numFieldCombinations

IdxLookup:
	for i, val := range fields {
		for valIdx, allowedVal := range m.fields[i].allowedValues {
			if val == allowedVal {
				remainingCombinationBucket /= len(m.fields[i].allowedValues)
				idx += remainingCombinationBucket * valIdx
				continue IdxLookup
			}
		}

		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}

	return idx
}

// keyToMultiField is the reverse of lookup. The returned list of field
// values corresponds to the same order of fields that were passed in to
// newFieldMapper.
func (m fieldMapper) keyToMultiField(key int) []string {
	depth := len(m.fields)
	if depth == 0 {
		return nil
	}
	fields := make([]string, depth)
	remainingCombinationBucket := m.numFieldCombinations
	for i := 0; i < depth; i++ {
		remainingCombinationBucket /= len(m.fields[i].allowedValues)
		fields[i] = m.fields[i].allowedValues[key/remainingCombinationBucket]
		key = key % remainingCombinationBucket
	}
	return fields
}

// labels returns the Prometheus labels for key.
func (m fieldMapper) labels(key int) map[string]string {
	values := m.keyToMultiField(key)
	if values == nil {
		return nil
	}
	labels := make(map[string]string, len(values))
	for i, v := range values {
		labels[m.fields[i].name] = v
	}
	return labels
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
type Uint64Metric struct {
	// metadata describes the metric. It is immutable.
	metadata prometheus.Metric

	// fields is the map of field-value combination index keys to Uint64 counters.
	fields []atomicbitops.Uint64

	// fieldMapper is used to generate index keys for the fields array (above)
	// based on field value combinations, and vice-versa.
	fieldMapper fieldMapper
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.fields[m.fieldMapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(v)
}

// customUint64Metric is a metric whose value is computed on demand.
type customUint64Metric struct {
	// metadata describes the metric. It is immutable.
	metadata prometheus.Metric

	// fieldMapper enumerates the field combinations to report.
	fieldMapper fieldMapper

	// value returns the current value of the metric for the given set of
	// fields. It takes a variadic number of field values as argument.
	value func(fieldValues ...string) uint64
}

// Registry holds a set of metrics.
//
// A Registry is owned by whatever component exports its metrics; there is no
// process-wide registry.
type Registry struct {
	// mu protects the fields below.
	mu sync.Mutex

	uint64Metrics map[string]*Uint64Metric
	customMetrics map[string]*customUint64Metric
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		uint64Metrics: make(map[string]*Uint64Metric),
		customMetrics: make(map[string]*customUint64Metric),
	}
}

// checkNameLocked verifies that name is valid and unused.
//
// Preconditions: r.mu is locked.
func (r *Registry) checkNameLocked(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := r.uint64Metrics[name]; ok {
		return fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	if _, ok := r.customMetrics[name]; ok {
		return fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	return nil
}

func metricType(cumulative bool) prometheus.Type {
	if cumulative {
		return prometheus.TypeCounter
	}
	return prometheus.TypeGauge
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
//
// Metrics must be statically defined (i.e., at init).
func (r *Registry) NewUint64Metric(name string, description string, fields ...Field) (*Uint64Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNameLocked(name); err != nil {
		return nil, err
	}
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		metadata: prometheus.Metric{
			Name: name,
			Type: metricType(true),
			Help: description,
		},
		fields:      make([]atomicbitops.Uint64, f.numFieldCombinations),
		fieldMapper: f,
	}
	r.uint64Metrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func (r *Registry) MustCreateNewUint64Metric(name string, description string, fields ...Field) *Uint64Metric {
	m, err := r.NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// RegisterCustomUint64Metric registers a metric with the given name whose
// value is computed by value at snapshot time.
//
// Preconditions:
//   - value is expected to accept exactly len(fields) arguments.
func (r *Registry) RegisterCustomUint64Metric(name string, cumulative bool, description string, value func(...string) uint64, fields ...Field) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNameLocked(name); err != nil {
		return err
	}
	f, err := newFieldMapper(fields...)
	if err != nil {
		return err
	}
	r.customMetrics[name] = &customUint64Metric{
		metadata: prometheus.Metric{
			Name: name,
			Type: metricType(cumulative),
			Help: description,
		},
		fieldMapper: f,
		value:       value,
	}
	return nil
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func (r *Registry) MustRegisterCustomUint64Metric(name string, cumulative bool, description string, value func(...string) uint64, fields ...Field) {
	if err := r.RegisterCustomUint64Metric(name, cumulative, description, value, fields...); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// Snapshot returns the current value of every registered metric, ordered by
// metric name.
func (r *Registry) Snapshot() *prometheus.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.uint64Metrics)+len(r.customMetrics))
	for name := range r.uint64Metrics {
		names = append(names, name)
	}
	for name := range r.customMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	s := prometheus.NewSnapshot()
	for _, name := range names {
		if m, ok := r.uint64Metrics[name]; ok {
			for key := range m.fields {
				s.Add(prometheus.LabeledIntData(&m.metadata, m.fieldMapper.labels(key), int64(m.fields[key].Load())))
			}
			continue
		}
		m := r.customMetrics[name]
		for key := 0; key < m.fieldMapper.numFieldCombinations; key++ {
			v := m.value(m.fieldMapper.keyToMultiField(key)...)
			s.Add(prometheus.LabeledIntData(&m.metadata, m.fieldMapper.labels(key), int64(v)))
		}
	}
	return s
}
