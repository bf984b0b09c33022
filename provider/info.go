package provider

import (
	"os"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"strconv"
	"time"

	"eidolon/model"
)

// ReadRuntimeInfo describes the current process. start is the time the agent
// considers the process to have started.
func ReadRuntimeInfo(start time.Time) model.RuntimeInfo {
	info := model.RuntimeInfo{
		GoVersion:   runtime.Version(),
		GOOS:        runtime.GOOS,
		GOARCH:      runtime.GOARCH,
		GOMAXPROCS:  runtime.GOMAXPROCS(0),
		NumCPU:      runtime.NumCPU(),
		GOGC:        currentGOGC(),
		MemoryLimit: MemoryLimit(),
		PID:         os.Getpid(),
		StartTime:   start.UTC(),
		Args:        append([]string(nil), os.Args...),
	}
	if !start.IsZero() {
		info.Uptime = time.Since(start)
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		info.ModulePath = bi.Main.Path
		info.ModuleVersion = bi.Main.Version
	}
	return info
}

func currentGOGC() string {
	if v := os.Getenv("GOGC"); v == "off" {
		return v
	}
	samples := []metrics.Sample{{Name: metricGOGC}}
	metrics.Read(samples)
	if samples[0].Value.Kind() != metrics.KindUint64 {
		if v := os.Getenv("GOGC"); v != "" {
			return v
		}
		return "100"
	}
	return strconv.FormatUint(samples[0].Value.Uint64(), 10)
}
