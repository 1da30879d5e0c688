//go:build linux

package prometheus

import (
	"sync"

	"github.com/mackerelio/go-osstat/cpu"
)

var (
	cpuStatsLock              sync.Mutex
	lastCPUTotal, lastCPUIdle uint64
)

// getCPUStats reports load since the previous call; the first call reports zero load
func getCPUStats() (cpuLoad float32, numCPUs uint32, err error) {
	cpuInfo, err := cpu.Get()
	if err != nil {
		return
	}

	cpuStatsLock.Lock()
	if lastCPUTotal > 0 && lastCPUTotal < cpuInfo.Total {
		cpuLoad = 1 - float32(cpuInfo.Idle-lastCPUIdle)/float32(cpuInfo.Total-lastCPUTotal)
	}
	lastCPUTotal = cpuInfo.Total
	lastCPUIdle = cpuInfo.Idle
	cpuStatsLock.Unlock()

	numCPUs = uint32(cpuInfo.CPUCount)
	return
}
