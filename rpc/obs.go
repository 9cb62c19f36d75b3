package rpc

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks request volume and latency per operation.
type Metrics struct {
	RequestTotal *prometheus.CounterVec   // op, result=success|client_error|server_error
	OpLatencyMS  *prometheus.HistogramVec // op
}

// NewMetrics builds and registers the server metrics on the provided
// registry. Passing nil registers on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RequestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_request_total",
				Help: "Total API requests by operation and result",
			},
			[]string{"op", "result"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_op_latency_ms",
				Help:    "Latency of escrow operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
			},
			[]string{"op"},
		),
	}
	reg.MustRegister(m.RequestTotal, m.OpLatencyMS)
	return m
}

func (m *Metrics) observe(op string, status int, start time.Time) {
	if m == nil {
		return
	}
	result := "success"
	switch {
	case status >= 500:
		result = "server_error"
	case status >= 400:
		result = "client_error"
	}
	m.RequestTotal.WithLabelValues(op, result).Inc()
	m.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

// Logger emits one JSON object per line to stdout.
type Logger struct {
	l *log.Logger
}

// NewLogger returns a line-oriented JSON logger.
func NewLogger() *Logger {
	return &Logger{l: log.New(os.Stdout, "", 0)}
}

func (lg *Logger) write(level string, fields map[string]interface{}) {
	if lg == nil || lg.l == nil {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["level"] = level
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	b, _ := json.Marshal(fields)
	lg.l.Println(string(b))
}

// Info logs fields at info level.
func (lg *Logger) Info(fields map[string]interface{}) { lg.write("info", fields) }

// Error logs fields at error level.
func (lg *Logger) Error(fields map[string]interface{}) { lg.write("error", fields) }
