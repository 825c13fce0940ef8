// Package metrics exposes the bridge's counters in Prometheus text format.
// Families carry at most one label (session, kind or command), which is all
// the bridge reports on.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector the bridge reports into.
var Default = NewCollector()

// Collector owns every metric family and renders them in name order.
type Collector struct {
	mu       sync.Mutex
	families map[string]*family
	start    time.Time
}

func NewCollector() *Collector {
	return &Collector{families: make(map[string]*family), start: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.start)
}

type metricKind string

const (
	kindCounter   metricKind = "counter"
	kindGauge     metricKind = "gauge"
	kindHistogram metricKind = "histogram"
)

// family is every series sharing one metric name, keyed by label value.
type family struct {
	name    string
	help    string
	kind    metricKind
	label   string // "" for an unlabelled family
	buckets []float64

	mu     sync.Mutex
	series map[string]any
}

func (c *Collector) family(name, help string, kind metricKind, label string, buckets []float64) *family {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.families[name]; ok {
		if f.kind != kind || f.label != label {
			panic(fmt.Sprintf("metrics: %s registered twice with different shapes", name))
		}
		return f
	}
	f := &family{name: name, help: help, kind: kind, label: label, buckets: buckets, series: make(map[string]any)}
	c.families[name] = f
	return f
}

func (f *family) get(value string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.series[value]; ok {
		return s
	}
	var s any
	switch f.kind {
	case kindCounter:
		s = &Counter{}
	case kindGauge:
		s = &Gauge{}
	case kindHistogram:
		s = newHistogram(f.buckets)
	}
	f.series[value] = s
	return s
}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge holds the latest value of something that goes up and down.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func newHistogram(bounds []float64) *Histogram {
	return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter registers an unlabelled counter.
func (c *Collector) Counter(name, help string) *Counter {
	return c.family(name, help, kindCounter, "", nil).get("").(*Counter)
}

// Gauge registers an unlabelled gauge.
func (c *Collector) Gauge(name, help string) *Gauge {
	return c.family(name, help, kindGauge, "", nil).get("").(*Gauge)
}

// CounterVec is a counter family split by one label.
type CounterVec struct{ f *family }

func (c *Collector) CounterVec(name, help, label string) *CounterVec {
	return &CounterVec{f: c.family(name, help, kindCounter, label, nil)}
}

// With returns the counter for one label value, creating it on first use.
func (v *CounterVec) With(value string) *Counter { return v.f.get(value).(*Counter) }

// HistogramVec is a histogram family split by one label.
type HistogramVec struct{ f *family }

func (c *Collector) HistogramVec(name, help, label string, buckets []float64) *HistogramVec {
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	return &HistogramVec{f: c.family(name, help, kindHistogram, label, b)}
}

func (v *HistogramVec) With(value string) *Histogram { return v.f.get(value).(*Histogram) }

// Handler renders every family in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP aibridge_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE aibridge_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "aibridge_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

		c.mu.Lock()
		names := make([]string, 0, len(c.families))
		for name := range c.families {
			names = append(names, name)
		}
		c.mu.Unlock()
		sort.Strings(names)

		for _, name := range names {
			c.mu.Lock()
			f := c.families[name]
			c.mu.Unlock()
			f.write(&sb)
		}
		fmt.Fprint(w, sb.String())
	}
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func (f *family) write(sb *strings.Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.series) == 0 {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)

	values := make([]string, 0, len(f.series))
	for v := range f.series {
		values = append(values, v)
	}
	sort.Strings(values)

	for _, v := range values {
		var pairs []string
		if f.label != "" {
			pairs = append(pairs, f.label+`="`+labelEscaper.Replace(v)+`"`)
		}
		switch s := f.series[v].(type) {
		case *Counter:
			fmt.Fprintf(sb, "%s%s %d\n", f.name, braces(pairs), s.Value())
		case *Gauge:
			fmt.Fprintf(sb, "%s%s %d\n", f.name, braces(pairs), s.Value())
		case *Histogram:
			s.mu.Lock()
			for i, le := range s.bounds {
				bound := fmt.Sprintf("%g", le)
				if math.IsInf(le, 1) {
					bound = "+Inf"
				}
				fmt.Fprintf(sb, "%s_bucket%s %d\n", f.name, braces(append(pairs, `le="`+bound+`"`)), s.counts[i])
			}
			fmt.Fprintf(sb, "%s_bucket%s %d\n", f.name, braces(append(pairs, `le="+Inf"`)), s.count)
			fmt.Fprintf(sb, "%s_sum%s %g\n", f.name, braces(pairs), s.sum)
			fmt.Fprintf(sb, "%s_count%s %d\n", f.name, braces(pairs), s.count)
			s.mu.Unlock()
		}
	}
}

func braces(pairs []string) string {
	if len(pairs) == 0 {
		return ""
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// Bridge metrics.
var (
	MessagesTotal  = Default.Counter("aibridge_messages_total", "Inbound messages accepted for processing")
	EchoSuppressed = Default.Counter("aibridge_echo_suppressed_total", "Inbound rows dropped as self-echoes")
	RepliesFailed  = Default.Counter("aibridge_replies_failed_total", "Replies the transport could not deliver")
	PollErrors     = Default.Counter("aibridge_poll_errors_total", "Message store reads that failed")

	CommandsTotal    = Default.CounterVec("aibridge_commands_total", "Control commands handled", "command")
	ExchangesTotal   = Default.CounterVec("aibridge_exchanges_total", "Exchanges sent to an AI session", "session")
	ExchangeFailures = Default.CounterVec("aibridge_exchange_failures_total", "Exchanges that ended in an apology, by error kind", "kind")

	QueueDepth        = Default.Gauge("aibridge_queue_depth", "Messages waiting in the delivery queue")
	SessionsAvailable = Default.Gauge("aibridge_sessions_available", "AI sessions currently available for routing")

	ExchangeLatency = Default.HistogramVec("aibridge_exchange_latency_seconds", "Time from submit to stabilized reply in seconds", "session",
		[]float64{1, 2, 5, 10, 20, 30, 60, 120, 300})
)
