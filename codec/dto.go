package codec

import "time"

// Wire types. Field names match what dashboards built against the agent
// already consume.

type SnapshotDTO struct {
	TimestampMillis int64          `json:"timestampMillis"`
	Heap            HeapDTO        `json:"heap"`
	Threads         ThreadsDTO     `json:"threads"`
	Classes         ClassesDTO     `json:"classes"`
	StringTable     StringTableDTO `json:"stringTable"`
	RecentGCEvents  []GCEventDTO   `json:"recentGcEvents"`
}

type HeapDTO struct {
	Used      int64           `json:"used"`
	Committed int64           `json:"committed"`
	Max       int64           `json:"max"`
	Pools     []MemoryPoolDTO `json:"pools"`
}

type MemoryPoolDTO struct {
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	Usage           UsageDTO  `json:"usage"`
	CollectionUsage *UsageDTO `json:"collectionUsage"`
}

type UsageDTO struct {
	Init      int64 `json:"init"`
	Used      int64 `json:"used"`
	Committed int64 `json:"committed"`
	Max       int64 `json:"max"`
}

type ThreadsDTO struct {
	ThreadCount             int64          `json:"threadCount"`
	DaemonThreadCount       int64          `json:"daemonThreadCount"`
	PeakThreadCount         int64          `json:"peakThreadCount"`
	TotalStartedThreadCount int64          `json:"totalStartedThreadCount"`
	StateCounts             map[string]int `json:"stateCounts"`
}

type ClassesDTO struct {
	LoadedClassCount      int64 `json:"loadedClassCount"`
	TotalLoadedClassCount int64 `json:"totalLoadedClassCount"`
	UnloadedClassCount    int64 `json:"unloadedClassCount"`
}

type StringTableDTO struct {
	Available        bool           `json:"available"`
	TableSize        *int64         `json:"tableSize"`
	BucketCount      *int64         `json:"bucketCount"`
	EntryCount       *int64         `json:"entryCount"`
	TotalMemoryBytes *int64         `json:"totalMemoryBytes"`
	RawAttributes    map[string]any `json:"rawAttributes"`
}

type GCEventDTO struct {
	GCName          string `json:"gcName"`
	GCAction        string `json:"gcAction"`
	GCCause         string `json:"gcCause"`
	StartTimeMillis int64  `json:"startTimeMillis"`
	DurationMillis  int64  `json:"durationMillis"`
	DurationMicros  int64  `json:"durationMicros"`
}

// Duration prefers the microsecond field and falls back to milliseconds for
// payloads that predate it.
func (e GCEventDTO) Duration() time.Duration {
	if e.DurationMicros > 0 {
		return time.Duration(e.DurationMicros) * time.Microsecond
	}
	return time.Duration(e.DurationMillis) * time.Millisecond
}

// RuntimeDTO describes the process and the agent settings.
type RuntimeDTO struct {
	GoVersion     string   `json:"goVersion"`
	GOOS          string   `json:"goos"`
	GOARCH        string   `json:"goarch"`
	GOMAXPROCS    int      `json:"gomaxprocs"`
	NumCPU        int      `json:"numCpu"`
	GOGC          string   `json:"gogc"`
	MemoryLimit   *int64   `json:"memoryLimit"`
	ModulePath    string   `json:"modulePath"`
	ModuleVersion string   `json:"moduleVersion"`
	PID           int      `json:"pid"`
	StartMillis   int64    `json:"startTimeMillis"`
	UptimeMillis  int64    `json:"uptimeMillis"`
	Arguments     []string `json:"inputArguments"`

	Host                    string `json:"host"`
	Port                    int    `json:"port"`
	ContextPath             string `json:"contextPath"`
	WebsocketEnabled        bool   `json:"websocketEnabled"`
	WebsocketIntervalMillis int64  `json:"websocketIntervalMillis"`
	GCEventBufferSize       int    `json:"gcEventBufferSize"`
	CollectStringTable      bool   `json:"collectStringTable"`
}

// AgentSettings is the configuration echoed by the runtime endpoint.
type AgentSettings struct {
	Host                    string
	Port                    int
	ContextPath             string
	WebsocketEnabled        bool
	WebsocketIntervalMillis int64
	GCEventBufferSize       int
	CollectStringTable      bool
}
