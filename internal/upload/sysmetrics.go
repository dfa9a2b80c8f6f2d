package upload

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatus reads cpu/mem/disk (and optionally GPU via nvidia-smi) for
// the heartbeat worker's system_status payload (spec.md §4.8).
func SystemStatus(ctx context.Context) map[string]any {
	status := map[string]any{}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		status["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status["memory_percent"] = vm.UsedPercent
		status["memory_total_mb"] = vm.Total / (1024 * 1024)
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		status["disk_percent"] = du.UsedPercent
		status["disk_total_mb"] = du.Total / (1024 * 1024)
	}
	if gpu, ok := nvidiaSMIUtilization(); ok {
		status["gpu_percent"] = gpu
	}
	return status
}

// nvidiaSMIUtilization shells out to nvidia-smi for GPU utilization. It is
// a best-effort probe: absence of the binary or a parse failure just means
// no gpu_percent key is reported (spec.md §4.8: "optional GPU via
// nvidia-smi parsing").
func nvidiaSMIUtilization() (float64, bool) {
	out, err := exec.Command("nvidia-smi", "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, false
	}
	line := strings.TrimSpace(strings.Split(string(out), "\n")[0])
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
