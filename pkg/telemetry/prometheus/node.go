package prometheus

import (
	"time"

	"github.com/mackerelio/go-osstat/loadavg"
	"github.com/mackerelio/go-osstat/memory"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	workerNamespace string = "handler_worker"
)

var (
	initialized atomic.Bool

	promCPULoad    prometheus.Gauge
	promMemoryLoad prometheus.Gauge
	promLoadAvg    *prometheus.GaugeVec
)

// NodeStats is a point-in-time view of the worker process and its host.
type NodeStats struct {
	StartedAt        int64   `json:"startedAt"`
	UpdatedAt        int64   `json:"updatedAt"`
	NumHandlers      int32   `json:"numHandlers"`
	NumTransceivers  int32   `json:"numTransceivers"`
	NumDataChannels  int32   `json:"numDataChannels"`
	NumConnections   int32   `json:"numConnections"`
	Requests         uint64  `json:"requests"`
	Notifications    uint64  `json:"notifications"`
	OutboundEvents   uint64  `json:"outboundEvents"`
	NumCPUs          uint32  `json:"numCpus"`
	CPULoad          float32 `json:"cpuLoad"`
	MemoryLoad       float32 `json:"memoryLoad"`
	LoadAvgLast1Min  float32 `json:"loadAvgLast1Min"`
	LoadAvgLast5Min  float32 `json:"loadAvgLast5Min"`
	LoadAvgLast15Min float32 `json:"loadAvgLast15Min"`
}

var startedAt = time.Now().Unix()

func Init(nodeID string) {
	if initialized.Swap(true) {
		return
	}

	promCPULoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: workerNamespace,
		Subsystem: "node",
		Name:      "cpu_load",
	})
	promMemoryLoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: workerNamespace,
		Subsystem: "node",
		Name:      "memory_load",
	})
	promLoadAvg = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: workerNamespace,
		Subsystem: "node",
		Name:      "load_avg",
	}, []string{"window"})

	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"node_id": nodeID}, prometheus.DefaultRegisterer)
	registerer.MustRegister(promCPULoad)
	registerer.MustRegister(promMemoryLoad)
	registerer.MustRegister(promLoadAvg)

	initHandlerStats(registerer)
}

func getMemoryStats() (memoryLoad float32, err error) {
	memInfo, err := memory.Get()
	if err != nil {
		return
	}

	if memInfo.Total != 0 {
		memoryLoad = float32(memInfo.Used) / float32(memInfo.Total)
	}
	return
}

func GetNodeStats() (*NodeStats, error) {
	stats := &NodeStats{
		StartedAt:       startedAt,
		UpdatedAt:       time.Now().Unix(),
		NumHandlers:     handlerCurrent.Load(),
		NumTransceivers: transceiverCurrent.Load(),
		NumDataChannels: dataChannelCurrent.Load(),
		NumConnections:  connectionCurrent.Load(),
		Requests:        requestsTotal.Load(),
		Notifications:   notificationsTotal.Load(),
		OutboundEvents:  outboundEventsTotal.Load(),
	}

	cpuLoad, numCPUs, err := getCPUStats()
	if err != nil {
		return nil, err
	}
	stats.CPULoad = cpuLoad
	stats.NumCPUs = numCPUs

	// not available everywhere, e.g. vm_stat missing on some macOS setups
	stats.MemoryLoad, _ = getMemoryStats()

	if loadAvg, err := loadavg.Get(); err == nil {
		stats.LoadAvgLast1Min = float32(loadAvg.Loadavg1)
		stats.LoadAvgLast5Min = float32(loadAvg.Loadavg5)
		stats.LoadAvgLast15Min = float32(loadAvg.Loadavg15)
	}

	if initialized.Load() {
		promCPULoad.Set(float64(stats.CPULoad))
		promMemoryLoad.Set(float64(stats.MemoryLoad))
		promLoadAvg.WithLabelValues("1m").Set(float64(stats.LoadAvgLast1Min))
		promLoadAvg.WithLabelValues("5m").Set(float64(stats.LoadAvgLast5Min))
		promLoadAvg.WithLabelValues("15m").Set(float64(stats.LoadAvgLast15Min))
	}

	return stats, nil
}
