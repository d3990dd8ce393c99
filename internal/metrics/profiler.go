// Package metrics provides block-device activity profiling. A Profiler
// observes every read, program and erase the engine issues through the
// block-device bridge; installing one has no effect on control flow.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Profiler receives one callback per device operation, with the absolute
// byte address and transfer size. Implementations must not fail; they are
// observation only.
type Profiler interface {
	Read(addr int64, size int)
	Write(addr int64, size int)
	Erase(addr int64, size int)
}

// Collector is a prometheus-backed Profiler in the spirit of an exporter
// sidecar: operation and byte counters per device operation, plus an
// optional HTTP exposition endpoint.
type Collector struct {
	registry *prometheus.Registry

	opCounter   *prometheus.CounterVec
	byteCounter *prometheus.CounterVec

	server *http.Server
}

// NewCollector builds a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "flashfs"
	}

	c := &Collector{registry: prometheus.NewRegistry()}
	c.opCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "operations_total",
		Help:      "Block device operations issued by the storage engine.",
	}, []string{"op"})
	c.byteCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "bytes_total",
		Help:      "Bytes transferred per block device operation.",
	}, []string{"op"})

	c.registry.MustRegister(c.opCounter, c.byteCounter)
	return c
}

func (c *Collector) Read(addr int64, size int) {
	c.opCounter.WithLabelValues("read").Inc()
	c.byteCounter.WithLabelValues("read").Add(float64(size))
}

func (c *Collector) Write(addr int64, size int) {
	c.opCounter.WithLabelValues("write").Inc()
	c.byteCounter.WithLabelValues("write").Add(float64(size))
}

func (c *Collector) Erase(addr int64, size int) {
	c.opCounter.WithLabelValues("erase").Inc()
	c.byteCounter.WithLabelValues("erase").Add(float64(size))
}

// Handler returns the exposition handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve starts a background HTTP server exposing /metrics on addr.
func (c *Collector) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Close shuts the exposition server down if one was started.
func (c *Collector) Close() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

// WearProfiler tracks per-block erase counts to observe how evenly the
// engine spreads wear across the volume.
type WearProfiler struct {
	blockSize int64
	erases    map[int64]uint32
	reads     uint64
	writes    uint64
}

// NewWearProfiler requires the erase block size used by the volume.
func NewWearProfiler(blockSize int64) *WearProfiler {
	return &WearProfiler{
		blockSize: blockSize,
		erases:    make(map[int64]uint32),
	}
}

func (w *WearProfiler) Read(addr int64, size int) {
	w.reads++
}

func (w *WearProfiler) Write(addr int64, size int) {
	w.writes++
}

func (w *WearProfiler) Erase(addr int64, size int) {
	for off := int64(0); off < int64(size); off += w.blockSize {
		w.erases[(addr+off)/w.blockSize]++
	}
}

// EraseCount returns the number of erases observed for one block.
func (w *WearProfiler) EraseCount(block int64) uint32 {
	return w.erases[block]
}

// TotalErases returns the erase count summed over all blocks.
func (w *WearProfiler) TotalErases() uint64 {
	var total uint64
	for _, n := range w.erases {
		total += uint64(n)
	}
	return total
}

// Report writes a block-by-block erase summary, worst first.
func (w *WearProfiler) Report(out io.Writer) {
	blocks := make([]int64, 0, len(w.erases))
	for b := range w.erases {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if w.erases[blocks[i]] != w.erases[blocks[j]] {
			return w.erases[blocks[i]] > w.erases[blocks[j]]
		}
		return blocks[i] < blocks[j]
	})

	fmt.Fprintf(out, "reads=%d writes=%d erases=%d\n", w.reads, w.writes, w.TotalErases())
	for _, b := range blocks {
		fmt.Fprintf(out, "  block %4d: %d erases\n", b, w.erases[b])
	}
}
