package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/w1ctl/internal/protocol"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "w1ctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "w1ctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "w1ctl",
			Subsystem: "netlink",
			Name:      "frames_total",
			Help:      "Connector frames by direction.",
		},
		[]string{"direction"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "w1ctl",
			Subsystem: "netlink",
			Name:      "frame_bytes_total",
			Help:      "Connector payload bytes by direction.",
		},
		[]string{"direction"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "w1ctl",
			Subsystem: "netlink",
			Name:      "decode_errors_total",
			Help:      "Frames rejected by the codec, by reason.",
		},
		[]string{"reason"},
	)
	kernelStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "w1ctl",
			Subsystem: "netlink",
			Name:      "kernel_status_total",
			Help:      "Messages the kernel flagged with a nonzero status.",
		},
		[]string{"status"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "w1ctl",
			Subsystem: "bus",
			Name:      "requests_total",
			Help:      "Bus requests by operation and outcome.",
		},
		[]string{"op", "success"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "w1ctl",
			Subsystem: "bus",
			Name:      "request_duration_seconds",
			Help:      "Bus request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "w1ctl",
			Subsystem: "bus",
			Name:      "events_total",
			Help:      "Bus add/remove events by kind.",
		},
		[]string{"kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			frames, frameBytes, decodeErrors, kernelStatus,
			requests, requestDuration, events,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one connector frame; direction is "in" or "out".
func RecordFrame(direction string, size int) {
	RegisterMetrics()
	frames.WithLabelValues(direction).Inc()
	frameBytes.WithLabelValues(direction).Add(float64(size))
}

// RecordDecodeError counts a rejected frame under the reason DecodeReason picks.
func RecordDecodeError(err error) {
	RegisterMetrics()
	var se *protocol.StatusError
	if errors.As(err, &se) {
		kernelStatus.WithLabelValues(strconv.Itoa(int(se.Status))).Inc()
		return
	}
	decodeErrors.WithLabelValues(DecodeReason(err)).Inc()
}

func RecordRequest(op string, duration time.Duration, err error) {
	RegisterMetrics()
	requests.WithLabelValues(op, strconv.FormatBool(err == nil)).Inc()
	requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordEvent(kind string) {
	RegisterMetrics()
	events.WithLabelValues(kind).Inc()
}

// DecodeReason maps a codec error to a short, bounded label value.
func DecodeReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, protocol.ErrKernelStatus):
		return "kernel_status"
	case errors.Is(err, protocol.ErrUnexpectedIdx), errors.Is(err, protocol.ErrUnexpectedVal):
		return "family"
	case errors.Is(err, protocol.ErrInvalidOpcode):
		return "opcode"
	case errors.Is(err, protocol.ErrInvalidMessageType):
		return "message_type"
	case errors.Is(err, protocol.ErrInvalidPayloadLength):
		return "payload_length"
	case errors.Is(err, protocol.ErrInvalidLength):
		return "short"
	case errors.Is(err, protocol.ErrInvalidHeader):
		return "header"
	case errors.Is(err, protocol.ErrNotImplemented):
		return "not_implemented"
	default:
		return "other"
	}
}
