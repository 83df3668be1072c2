package ion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts reader activity. A nil *Metrics records nothing, so
// readers built without metrics pay only a nil check.
type Metrics struct {
	bytesRead            prometheus.Counter
	values               prometheus.Counter
	needsData            prometheus.Counter
	oversizedValues      prometheus.Counter
	oversizedSymbolTable prometheus.Counter
	symbolTables         *prometheus.CounterVec
	macroExpansions      *prometheus.CounterVec
	valueBytes           prometheus.Histogram
}

// NewMetrics registers the reader metrics with reg. A nil reg creates
// unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		bytesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ion",
			Name:      "reader_bytes_total",
			Help:      "Bytes read from the input.",
		}),
		values: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ion",
			Name:      "reader_values_total",
			Help:      "Top-level user values returned by readers.",
		}),
		needsData: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ion",
			Name:      "reader_needs_data_total",
			Help:      "Calls that returned NEEDS_DATA.",
		}),
		oversizedValues: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ion",
			Name:      "reader_oversized_values_total",
			Help:      "Values skipped because they exceed the maximum buffer size.",
		}),
		oversizedSymbolTable: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ion",
			Name:      "reader_oversized_symbol_tables_total",
			Help:      "Symbol tables that exceeded the maximum buffer size and terminated the reader.",
		}),
		symbolTables: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ion",
			Name:      "reader_symbol_tables_total",
			Help:      "Symbol tables installed, by mode.",
		}, []string{"mode"}),
		macroExpansions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ion",
			Name:      "reader_macro_expansions_total",
			Help:      "Macro invocations expanded, by origin.",
		}, []string{"origin"}),
		valueBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ion",
			Name:      "reader_value_bytes",
			Help:      "Encoded size of top-level values.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}),
	}
}

func (m *Metrics) addBytes(n int) {
	if m != nil && n > 0 {
		m.bytesRead.Add(float64(n))
	}
}

func (m *Metrics) incNeedsData() {
	if m != nil {
		m.needsData.Inc()
	}
}

func (m *Metrics) incOversizedValue() {
	if m != nil {
		m.oversizedValues.Inc()
	}
}

func (m *Metrics) incOversizedSymbolTable() {
	if m != nil {
		m.oversizedSymbolTable.Inc()
	}
}

func (m *Metrics) incSymbolTable(mode symtabMode) {
	if m != nil {
		m.symbolTables.WithLabelValues(mode.String()).Inc()
	}
}

// Expansion origins.
const (
	expansionRaw      = "raw"
	expansionBytecode = "bytecode"
)

func (m *Metrics) incMacroExpansion(origin string) {
	if m != nil {
		m.macroExpansions.WithLabelValues(origin).Inc()
	}
}

func (m *Metrics) observeValue(size int64) {
	if m != nil {
		m.values.Inc()
		if size >= 0 {
			m.valueBytes.Observe(float64(size))
		}
	}
}
