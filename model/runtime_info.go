package model

import "time"

// RuntimeInfo is the static description of the monitored process.
type RuntimeInfo struct {
	GoVersion     string
	GOOS          string
	GOARCH        string
	GOMAXPROCS    int
	NumCPU        int
	GOGC          string
	MemoryLimit   int64
	ModulePath    string
	ModuleVersion string
	PID           int
	StartTime     time.Time
	Uptime        time.Duration
	Args          []string
}
