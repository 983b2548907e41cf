package mqttconn

import (
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// MetricTypeCounter is a monotonically increasing counter.
	MetricTypeCounter MetricType = 0
	// MetricTypeGauge is a value that can go up and down.
	MetricTypeGauge MetricType = 1
	// MetricTypeHistogram tracks distribution of values.
	MetricTypeHistogram MetricType = 2
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics defines the interface for collecting metrics.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()

	// Add adds the given value to the counter.
	Add(delta float64)

	// Value returns the current value.
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	// Set sets the gauge to the given value.
	Set(value float64)

	// Inc increments the gauge by 1.
	Inc()

	// Dec decrements the gauge by 1.
	Dec()

	// Add adds the given value to the gauge.
	Add(delta float64)

	// Sub subtracts the given value from the gauge.
	Sub(delta float64)

	// Value returns the current value.
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	// Observe records a value.
	Observe(value float64)

	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)

	// Count returns the number of observations.
	Count() uint64

	// Sum returns the sum of all observations.
	Sum() float64
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

// Counter returns a no-op counter.
func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter {
	return &noOpCounter{}
}

// Gauge returns a no-op gauge.
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge {
	return &noOpGauge{}
}

// Histogram returns a no-op histogram.
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram {
	return &noOpHistogram{}
}

type noOpCounter struct{}

func (n *noOpCounter) Inc()           {}
func (n *noOpCounter) Add(_ float64)  {}
func (n *noOpCounter) Value() float64 { return 0 }

type noOpGauge struct{}

func (n *noOpGauge) Set(_ float64)  {}
func (n *noOpGauge) Inc()           {}
func (n *noOpGauge) Dec()           {}
func (n *noOpGauge) Add(_ float64)  {}
func (n *noOpGauge) Sub(_ float64)  {}
func (n *noOpGauge) Value() float64 { return 0 }

type noOpHistogram struct{}

func (n *noOpHistogram) Observe(_ float64)               {}
func (n *noOpHistogram) ObserveDuration(_ time.Duration) {}
func (n *noOpHistogram) Count() uint64                   { return 0 }
func (n *noOpHistogram) Sum() float64                    { return 0 }

// Standard metric names for the connection manager.
const (
	// MetricConnectAttempts is the total number of connect attempts.
	MetricConnectAttempts = "mqtt_connect_attempts_total"

	// MetricConnectFailures is the total number of failed connect
	// attempts, including unexpected session loss.
	MetricConnectFailures = "mqtt_connect_failures_total"

	// MetricConnectionsActive is the number of connections currently in
	// the connected state.
	MetricConnectionsActive = "mqtt_connections_active"

	// MetricPublishesSent is the total number of outbound publishes
	// submitted to the engine.
	MetricPublishesSent = "mqtt_publishes_sent_total"

	// MetricMessagesDelivered is the total number of inbound publishes
	// delivered to subscription handlers.
	MetricMessagesDelivered = "mqtt_messages_delivered_total"

	// MetricOperationsPending is the number of in-flight operations.
	MetricOperationsPending = "mqtt_operations_pending"

	// MetricOperationsAbandoned is the total number of operations
	// resolved with an abandoned indication on disconnect.
	MetricOperationsAbandoned = "mqtt_operations_abandoned_total"

	// MetricPingsSent is the total number of keep-alive pings sent.
	MetricPingsSent = "mqtt_pings_sent_total"

	// MetricConnectDuration is the connect handshake latency.
	MetricConnectDuration = "mqtt_connect_duration_seconds"
)

// Standard metric labels.
const (
	// LabelQoS is the QoS level label.
	LabelQoS = "qos"

	// LabelReturnCode is the CONNACK return code label.
	LabelReturnCode = "return_code"

	// LabelOperation is the operation kind label.
	LabelOperation = "operation"
)

// ConnectionMetrics provides convenience methods for common connection
// manager metrics.
type ConnectionMetrics struct {
	metrics Metrics
}

// NewConnectionMetrics creates a new ConnectionMetrics instance.
func NewConnectionMetrics(m Metrics) *ConnectionMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &ConnectionMetrics{metrics: m}
}

// ConnectStarted records a connect attempt.
func (c *ConnectionMetrics) ConnectStarted() {
	c.metrics.Counter(MetricConnectAttempts, nil).Inc()
}

// ConnectSucceeded records a successful handshake.
func (c *ConnectionMetrics) ConnectSucceeded(d time.Duration) {
	c.metrics.Gauge(MetricConnectionsActive, nil).Inc()
	c.metrics.Histogram(MetricConnectDuration, nil).ObserveDuration(d)
}

// ConnectFailed records a failed connect attempt or an unexpected session
// loss.
func (c *ConnectionMetrics) ConnectFailed() {
	c.metrics.Counter(MetricConnectFailures, nil).Inc()
}

// Disconnected records a session leaving the connected state.
func (c *ConnectionMetrics) Disconnected() {
	c.metrics.Gauge(MetricConnectionsActive, nil).Dec()
}

// PublishSent records an outbound publish.
func (c *ConnectionMetrics) PublishSent(qos QOS) {
	labels := MetricLabels{LabelQoS: string(rune('0' + qos))}
	c.metrics.Counter(MetricPublishesSent, labels).Inc()
}

// MessageDelivered records an inbound publish delivered to a handler.
func (c *ConnectionMetrics) MessageDelivered() {
	c.metrics.Counter(MetricMessagesDelivered, nil).Inc()
}

// OperationRegistered records a new in-flight operation.
func (c *ConnectionMetrics) OperationRegistered(kind OperationKind) {
	c.metrics.Gauge(MetricOperationsPending, MetricLabels{LabelOperation: kind.String()}).Inc()
}

// OperationResolved records an in-flight operation completing.
func (c *ConnectionMetrics) OperationResolved(kind OperationKind) {
	c.metrics.Gauge(MetricOperationsPending, MetricLabels{LabelOperation: kind.String()}).Dec()
}

// OperationAbandoned records an operation resolved by disconnect.
func (c *ConnectionMetrics) OperationAbandoned(kind OperationKind) {
	c.metrics.Gauge(MetricOperationsPending, MetricLabels{LabelOperation: kind.String()}).Dec()
	c.metrics.Counter(MetricOperationsAbandoned, nil).Inc()
}

// PingSent records a keep-alive ping.
func (c *ConnectionMetrics) PingSent() {
	c.metrics.Counter(MetricPingsSent, nil).Inc()
}
