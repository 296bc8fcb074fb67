package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the task's prometheus collectors.
type Metrics struct {
	Commands     *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	LogRecords   prometheus.Counter
	Mounted      prometheus.Gauge
	TriggerDrops *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usbstore_commands_total",
			Help: "Commands handled by the storage worker.",
		}, []string{"op"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usbstore_mount_transitions_total",
			Help: "Observed drive connect and disconnect edges.",
		}, []string{"edge"}),
		LogRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "usbstore_log_records_total",
			Help: "Sensor records appended to the log file.",
		}),
		Mounted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "usbstore_mounted",
			Help: "1 while the drive is mounted.",
		}),
		TriggerDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usbstore_trigger_drops_total",
			Help: "Triggers dropped because the command queue was full.",
		}, []string{"op"}),
	}
}
