package codec

import (
	"eidolon/model"
)

// FromSnapshot converts a snapshot into its wire form.
func FromSnapshot(s model.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		TimestampMillis: s.CapturedAt.UnixMilli(),
		Heap:            FromMemory(s.Memory),
		Threads:         FromThreads(s.Threads),
		Classes:         FromClasses(s.Classes),
		StringTable:     FromStringTable(s.StringTable),
		RecentGCEvents:  FromEvents(s.Events),
	}
}

func FromMemory(m model.MemoryView) HeapDTO {
	pools := make([]MemoryPoolDTO, 0, len(m.Pools))
	for _, p := range m.Pools {
		dto := MemoryPoolDTO{
			Name:  p.Name,
			Type:  string(p.Kind),
			Usage: fromUsage(p.Usage),
		}
		if dto.Type == "" {
			dto.Type = string(model.PoolUnknown)
		}
		if p.CollectionUsage != nil {
			cu := fromUsage(*p.CollectionUsage)
			dto.CollectionUsage = &cu
		}
		pools = append(pools, dto)
	}
	return HeapDTO{Used: m.Used, Committed: m.Committed, Max: m.Max, Pools: pools}
}

func fromUsage(u model.Usage) UsageDTO {
	return UsageDTO{Init: u.Init, Used: u.Used, Committed: u.Committed, Max: u.Max}
}

func FromThreads(t model.ThreadView) ThreadsDTO {
	states := make(map[string]int, len(t.States))
	for _, s := range model.AllThreadStates() {
		states[string(s)] = 0
	}
	for s, n := range t.States {
		states[string(s)] = n
	}
	return ThreadsDTO{
		ThreadCount:             t.Live,
		DaemonThreadCount:       t.Daemon,
		PeakThreadCount:         t.Peak,
		TotalStartedThreadCount: t.TotalStarted,
		StateCounts:             states,
	}
}

func FromClasses(c model.ClassLoadingView) ClassesDTO {
	return ClassesDTO{
		LoadedClassCount:      c.Loaded,
		TotalLoadedClassCount: c.TotalLoaded,
		UnloadedClassCount:    c.Unloaded,
	}
}

func FromStringTable(st model.StringTableView) StringTableDTO {
	dto := StringTableDTO{Available: st.Available, RawAttributes: map[string]any{}}
	if !st.Available {
		return dto
	}
	dto.TableSize = copyInt(st.TableSize)
	dto.BucketCount = copyInt(st.BucketCount)
	dto.EntryCount = copyInt(st.EntryCount)
	dto.TotalMemoryBytes = copyInt(st.TotalBytes)
	for k, v := range st.Attributes {
		dto.RawAttributes[k] = v
	}
	return dto
}

func copyInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func FromEvents(events []model.LifecycleEvent) []GCEventDTO {
	out := make([]GCEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, GCEventDTO{
			GCName:          ev.Source,
			GCAction:        ev.Action,
			GCCause:         ev.Cause,
			StartTimeMillis: ev.StartTime.UnixMilli(),
			DurationMillis:  ev.Duration.Milliseconds(),
			DurationMicros:  ev.Duration.Microseconds(),
		})
	}
	return out
}

// FromRuntime merges process information with agent settings.
func FromRuntime(info model.RuntimeInfo, settings AgentSettings) RuntimeDTO {
	dto := RuntimeDTO{
		GoVersion:     info.GoVersion,
		GOOS:          info.GOOS,
		GOARCH:        info.GOARCH,
		GOMAXPROCS:    info.GOMAXPROCS,
		NumCPU:        info.NumCPU,
		GOGC:          info.GOGC,
		ModulePath:    info.ModulePath,
		ModuleVersion: info.ModuleVersion,
		PID:           info.PID,
		UptimeMillis:  info.Uptime.Milliseconds(),
		Arguments:     append([]string{}, info.Args...),

		Host:                    settings.Host,
		Port:                    settings.Port,
		ContextPath:             settings.ContextPath,
		WebsocketEnabled:        settings.WebsocketEnabled,
		WebsocketIntervalMillis: settings.WebsocketIntervalMillis,
		GCEventBufferSize:       settings.GCEventBufferSize,
		CollectStringTable:      settings.CollectStringTable,
	}
	if !info.StartTime.IsZero() {
		dto.StartMillis = info.StartTime.UnixMilli()
	}
	if info.MemoryLimit >= 0 {
		limit := info.MemoryLimit
		dto.MemoryLimit = &limit
	}
	return dto
}
