package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/command"
)

var (
	// ConnectedClients tracks the number of registered clients per channel.
	ConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "twinctl_connected_clients",
		Help: "The number of currently registered WebSocket clients",
	}, []string{"channel"})

	// MessagesTotal tracks the total number of messages sent and received.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twinctl_messages_total",
		Help: "The total number of messages sent and received",
	}, []string{"direction"}) // "in", "out"

	// CommandsTotal counts dispatched commands.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twinctl_commands_total",
		Help: "The total number of dispatched commands",
	}, []string{"operation", "outcome", "method"})

	// RendererReportsTotal counts commandResult reports from renderers.
	RendererReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twinctl_renderer_reports_total",
		Help: "The total number of command results reported by renderers",
	}, []string{"outcome"})

	BroadcastDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twinctl_broadcast_deliveries_total",
		Help: "The total number of messages delivered by broadcasts",
	})

	PrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twinctl_pruned_clients_total",
		Help: "The total number of clients removed after a failed broadcast send",
	})

	SupersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twinctl_superseded_clients_total",
		Help: "The total number of connections replaced by a newer one for the same session",
	})

	// ErrorsTotal tracks the total number of errors encountered.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twinctl_errors_total",
		Help: "The total number of errors encountered",
	}, []string{"type"}) // "protocol", "write", "rate_limit", "upgrade", "internal"
)

// MetricsHandler returns the HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func IncConnectedClients(ch client.Channel) {
	ConnectedClients.WithLabelValues(string(ch)).Inc()
}

func DecConnectedClients(ch client.Channel) {
	ConnectedClients.WithLabelValues(string(ch)).Dec()
}

// IncMessageIn increments the incoming message counter.
func IncMessageIn() {
	MessagesTotal.WithLabelValues("in").Inc()
}

// IncMessageOut increments the outgoing message counter.
func IncMessageOut() {
	MessagesTotal.WithLabelValues("out").Inc()
}

// IncError increments the error counter for the given type.
func IncError(errType string) {
	ErrorsTotal.WithLabelValues(errType).Inc()
}

// ObserveCommand records a completed dispatch.
func ObserveCommand(cmd command.Command, res command.Result) {
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	op := cmd.Action.String()
	if !cmd.Action.IsBuiltin() {
		op = "other"
	}
	CommandsTotal.WithLabelValues(op, outcome, string(res.Method())).Inc()
}

func observeDelivery(d client.Delivery) {
	BroadcastDeliveries.Add(float64(d.Delivered))
}
