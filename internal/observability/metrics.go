package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jdwpd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jdwpd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jdwpd",
			Subsystem: "transport",
			Name:      "connections_total",
			Help:      "Debugger connection attempts by transport and result.",
		},
		[]string{"transport", "result"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jdwpd",
			Subsystem: "transport",
			Name:      "packets_total",
			Help:      "Packets moved over the debugger connection.",
		},
		[]string{"direction", "kind"},
	)
	packetBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jdwpd",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Bytes moved over the debugger connection.",
		},
		[]string{"direction"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jdwpd",
			Subsystem: "session",
			Name:      "command_duration_seconds",
			Help:      "Time from command parse to reply write, by command set.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command_set", "replied"},
	)
	tokenWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "jdwpd",
			Subsystem: "session",
			Name:      "token_wait_seconds",
			Help:      "Time spent waiting to acquire the serialization token.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connections,
			packets,
			packetBytes,
			commandDuration,
			tokenWait,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordConnection counts one accept/establish outcome.
func RecordConnection(transport string, ok bool) {
	RegisterMetrics()
	result := "failed"
	if ok {
		result = "connected"
	}
	connections.WithLabelValues(transport, result).Inc()
}

// RecordPacket counts one packet. direction is "in" or "out"; kind is
// "handshake", "command", "reply" or "event".
func RecordPacket(direction, kind string, size int) {
	RegisterMetrics()
	packets.WithLabelValues(direction, kind).Inc()
	if size > 0 {
		packetBytes.WithLabelValues(direction).Add(float64(size))
	}
}

func RecordCommand(commandSet uint8, replied bool, duration time.Duration) {
	RegisterMetrics()
	commandDuration.WithLabelValues(strconv.Itoa(int(commandSet)), strconv.FormatBool(replied)).
		Observe(duration.Seconds())
}

func RecordTokenWait(duration time.Duration) {
	RegisterMetrics()
	tokenWait.Observe(duration.Seconds())
}
