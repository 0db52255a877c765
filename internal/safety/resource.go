package safety

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceProbe reports current host resource utilization. Grounded on
// aristath-sentinel/internal/server/system_handlers.go's
// cpu.Percent/mem.VirtualMemory usage, extended with disk usage for the
// resource breaker's three-way check (spec.md §4.8).
type ResourceProbe interface {
	CPUPercent() (float64, error)
	MemPercent() (float64, error)
	DiskPercent(path string) (float64, error)
}

// GopsutilProbe is the concrete ResourceProbe used outside tests.
type GopsutilProbe struct{}

func (GopsutilProbe) CPUPercent() (float64, error) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

func (GopsutilProbe) MemPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

func (GopsutilProbe) DiskPercent(path string) (float64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}
