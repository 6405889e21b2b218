package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vecu"

// Outcome labels
const (
	OutcomePositive = "positive"
	OutcomeNegative = "negative"
	OutcomeRejected = "rejected" // 帧层拒绝，未到达分发器
)

// Recorder 持有一组独立注册的指标。nil *Recorder 的方法均为空操作。
type Recorder struct {
	registry *prometheus.Registry

	frames    *prometheus.CounterVec
	requests  *prometheus.CounterVec
	negatives *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	sessions  *prometheus.GaugeVec
	gwConns   prometheus.Gauge
	gwDropped prometheus.Counter
}

// New 创建 Recorder 并注册到新的 Registry
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_total",
				Help:      "Received frames by decoded kind.",
			},
			[]string{"ecu", "kind"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "uds",
				Name:      "requests_total",
				Help:      "Handled diagnostic requests.",
			},
			[]string{"ecu", "service", "outcome"},
		),
		negatives: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "uds",
				Name:      "negative_responses_total",
				Help:      "Negative responses by NRC.",
			},
			[]string{"ecu", "nrc"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ecu",
				Name:      "handle_duration_seconds",
				Help:      "Time spent handling one frame.",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"ecu"},
		),
		sessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ecu",
				Name:      "session_active",
				Help:      "1 once a diagnostic session has been opened.",
			},
			[]string{"ecu"},
		),
		gwConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open gateway connections.",
		}),
		gwDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "invalid_lines_total",
			Help:      "Gateway input lines that were not valid frames.",
		}),
	}
	r.registry.MustRegister(r.frames, r.requests, r.negatives, r.duration, r.sessions, r.gwConns, r.gwDropped)
	return r
}

// Registry 返回内部 Registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 /metrics 处理器
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) RecordFrame(ecu, kind string) {
	if r == nil {
		return
	}
	r.frames.WithLabelValues(ecu, kind).Inc()
}

// RecordRequest 记录一次请求结果；nrc 仅在 outcome 不为 positive 时使用
func (r *Recorder) RecordRequest(ecu, service, outcome, nrc string, duration time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(ecu, service, outcome).Inc()
	if outcome != OutcomePositive {
		r.negatives.WithLabelValues(ecu, nrc).Inc()
	}
	r.duration.WithLabelValues(ecu).Observe(duration.Seconds())
}

func (r *Recorder) SetSessionActive(ecu string, active bool) {
	if r == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	r.sessions.WithLabelValues(ecu).Set(v)
}

func (r *Recorder) ConnOpened() {
	if r == nil {
		return
	}
	r.gwConns.Inc()
}

func (r *Recorder) ConnClosed() {
	if r == nil {
		return
	}
	r.gwConns.Dec()
}

func (r *Recorder) InvalidLine() {
	if r == nil {
		return
	}
	r.gwDropped.Inc()
}
