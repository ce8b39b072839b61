package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the chat service collectors. Each instance owns its registry so tests can
// build several without duplicate registration panics.
type Metrics struct {
	Registry        *prometheus.Registry
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	outboxPublished *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_commands_total",
			Help: "Dispatched commands by key and outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_command_duration_seconds",
			Help:    "Command handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		outboxPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_outbox_events_total",
			Help: "Outbox events relayed to the broker by result.",
		}, []string{"result"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_notifications_total",
			Help: "Notifications dispatched by event and result.",
		}, []string{"event", "result"}),
	}
}

func (m *Metrics) ObserveRequest(method, route, status string, took time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// ObserveCommand satisfies middleware.CommandObserver.
func (m *Metrics) ObserveCommand(key, outcome string, took time.Duration) {
	m.commands.WithLabelValues(key, outcome).Inc()
	m.commandDuration.WithLabelValues(key).Observe(took.Seconds())
}

func (m *Metrics) ObserveOutbox(result string) {
	m.outboxPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveNotification(event, result string) {
	m.notifications.WithLabelValues(event, result).Inc()
}
