package speech

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// DeviceClass buckets the host into a capability tier. The class picks the
// starting quality tier for the fast pass and the target tier upgrades aim
// for.
type DeviceClass int

const (
	DeviceWeak DeviceClass = iota
	DeviceMedium
	DeviceStrong
)

// String returns the string representation of the class.
func (c DeviceClass) String() string {
	switch c {
	case DeviceWeak:
		return "weak"
	case DeviceMedium:
		return "medium"
	case DeviceStrong:
		return "strong"
	default:
		return "unknown"
	}
}

const (
	// Upgrades need this much free memory to be worth attempting.
	upgradeMemoryFloor = 2 << 30

	// Heap fill ratio above which upgrades are deferred.
	upgradeHeapCeiling = 0.80

	weakMemoryCeiling = 4 << 30
	strongMemoryFloor = 12 << 30
	strongCPUFloor    = 8
)

// Monitor classifies the host and gates background upgrade work. Probe
// failures never block: when the host gives no signal, the answer is yes.
type Monitor struct {
	probe  SystemProbe
	logger *log.Logger

	once  sync.Once
	class DeviceClass
}

// NewMonitor creates a monitor over the given probe.
func NewMonitor(probe SystemProbe, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{probe: probe, logger: logger}
}

// Classify buckets the host by installed memory and CPU count. The result
// is computed once and cached; device class does not change mid-session.
func (m *Monitor) Classify() DeviceClass {
	m.once.Do(func() {
		m.class = m.classify()
		m.logger.Info("device classified", "class", m.class)
	})
	return m.class
}

func (m *Monitor) classify() DeviceClass {
	total, err := m.probe.TotalMemoryBytes()
	if err != nil {
		m.logger.Debug("memory probe failed, assuming medium", "error", err)
		return DeviceMedium
	}
	cpus := m.probe.NumCPU()

	switch {
	case total < weakMemoryCeiling:
		return DeviceWeak
	case total >= strongMemoryFloor && cpus >= strongCPUFloor:
		return DeviceStrong
	default:
		return DeviceMedium
	}
}

// StartingTier returns the tier the fast pass generates at. Always the
// cheapest entry; the class only matters for where upgrades stop.
func (m *Monitor) StartingTier() int {
	return 0
}

// TargetTier returns the tier the upgrade loop works toward, clamped to
// what the ladder actually offers.
func (m *Monitor) TargetTier(ladder *TierLadder) int {
	max := ladder.MaxAvailable()
	if max < 0 {
		return 0
	}

	var want int
	switch m.Classify() {
	case DeviceWeak:
		want = 1
	case DeviceMedium:
		want = 2
	default:
		want = max
	}
	if want > max {
		want = max
	}
	return want
}

// CanRunUpgradeNow checks the instantaneous resource gate for one upgrade
// dispatch. Battery without charging, low free memory, or a hot heap defer
// the upgrade; a failed probe allows it.
func (m *Monitor) CanRunUpgradeNow() bool {
	if onBattery, charging, err := m.probe.PowerState(); err == nil {
		if onBattery && !charging {
			m.logger.Debug("upgrade deferred", "reason", "on battery")
			return false
		}
	}

	if free, err := m.probe.FreeMemoryBytes(); err == nil {
		// The floor itself refuses: exactly 2 GiB free is not enough.
		if free <= upgradeMemoryFloor {
			m.logger.Debug("upgrade deferred", "reason", "low memory", "free", free)
			return false
		}
	}

	if heap, err := m.probe.HeapUtilization(); err == nil {
		if heap > upgradeHeapCeiling {
			m.logger.Debug("upgrade deferred", "reason", "heap pressure", "utilization", heap)
			return false
		}
	}

	return true
}

// HostProbe reads host signals from /proc and the Go runtime. Methods
// return errors on hosts without the expected files; the monitor treats
// those as non-answers.
type HostProbe struct{}

// TotalMemoryBytes reads MemTotal from /proc/meminfo.
func (HostProbe) TotalMemoryBytes() (uint64, error) {
	return readMeminfo("MemTotal:")
}

// FreeMemoryBytes reads MemAvailable from /proc/meminfo.
func (HostProbe) FreeMemoryBytes() (uint64, error) {
	return readMeminfo("MemAvailable:")
}

// HeapUtilization reports the runtime heap fill ratio against the next GC
// goal.
func (HostProbe) HeapUtilization() (float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.NextGC == 0 {
		return 0, nil
	}
	return float64(ms.HeapAlloc) / float64(ms.NextGC), nil
}

// PowerState reads the first power supply entry under /sys/class/power_supply.
func (HostProbe) PowerState() (onBattery, charging bool, err error) {
	entries, err := os.ReadDir("/sys/class/power_supply")
	if err != nil {
		return false, false, err
	}
	for _, e := range entries {
		base := "/sys/class/power_supply/" + e.Name()
		kind, err := os.ReadFile(base + "/type")
		if err != nil || strings.TrimSpace(string(kind)) != "Battery" {
			continue
		}
		status, err := os.ReadFile(base + "/status")
		if err != nil {
			continue
		}
		s := strings.TrimSpace(string(status))
		return s == "Discharging", s == "Charging", nil
	}
	// No battery entry means mains power.
	return false, false, nil
}

// NumCPU returns the logical CPU count.
func (HostProbe) NumCPU() int {
	return runtime.NumCPU()
}

func readMeminfo(field string) (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, field) {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, os.ErrNotExist
}
