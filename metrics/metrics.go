package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dlms",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Frames sent and received.",
		},
		[]string{"interface", "direction"},
	)
	fcsErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dlms",
			Subsystem: "link",
			Name:      "fcs_errors_total",
			Help:      "Frames dropped because of header or payload check sequence mismatch.",
		},
	)
	echoes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dlms",
			Subsystem: "link",
			Name:      "echo_frames_total",
			Help:      "Own frames read back from the line and skipped.",
		},
	)
	sequenceMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dlms",
			Subsystem: "link",
			Name:      "sequence_mismatches_total",
			Help:      "Received frames whose control field did not match the expected sequence.",
		},
	)
	blocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dlms",
			Subsystem: "apdu",
			Name:      "blocks_total",
			Help:      "Application blocks produced by splitting and consumed by reassembly.",
		},
		[]string{"direction"},
	)
	transferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dlms",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Raw bytes written to and read from the physical transport.",
		},
		[]string{"transport", "direction"},
	)
)

// RegisterMetrics registers collectors with the default registry, only once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, fcsErrors, echoes, sequenceMismatches, blocks, transferred)
	})
}

// Register adds collectors to a custom registry.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{frames, fcsErrors, echoes, sequenceMismatches, blocks, transferred} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func RecordFrameOut(iface string) {
	frames.WithLabelValues(iface, "out").Inc()
}

func RecordFrameIn(iface string) {
	frames.WithLabelValues(iface, "in").Inc()
}

func RecordFCSError() {
	fcsErrors.Inc()
}

func RecordEcho() {
	echoes.Inc()
}

func RecordSequenceMismatch() {
	sequenceMismatches.Inc()
}

func RecordBlocksOut(n int) {
	blocks.WithLabelValues("out").Add(float64(n))
}

func RecordBlockIn() {
	blocks.WithLabelValues("in").Inc()
}

func RecordBytesOut(transport string, n int) {
	transferred.WithLabelValues(transport, "out").Add(float64(n))
}

func RecordBytesIn(transport string, n int) {
	transferred.WithLabelValues(transport, "in").Add(float64(n))
}
