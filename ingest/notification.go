// Package ingest turns lifecycle notifications from the monitored process into
// LifecycleEvents and appends them to the shared event ring.
//
// Notifications arrive on whatever goroutine the source uses (the runtime GC
// watcher, MQTT callbacks, host code). Handling never blocks on I/O and never
// lets a malformed payload escape as a panic.
package ingest

import (
	"time"

	"eidolon/model"
)

// HotSpotGCType is the notification type emitted by JVM agents for GC events.
const HotSpotGCType = "com.sun.management.gc.notification"

// LifecycleType tags already-extracted events in Raw payloads.
const LifecycleType = "lifecycle"

// Notification is the closed set of shapes the ingestor understands. Unknown
// implementations are discarded.
type Notification interface {
	notification()
}

// RuntimeGC is an in-process Go GC cycle observed by GCWatcher.
type RuntimeGC struct {
	Cycle  uint32
	End    time.Time
	Pause  time.Duration
	Forced bool
}

// HotSpotGC is a JVM-style garbage-collection notification. UserData carries
// gcName, gcAction, gcCause and gcInfo{startTime, duration} in milliseconds.
// VMStartMillis, when non-zero, is the emitter's start epoch; gcInfo.startTime
// is then taken as relative to it.
type HotSpotGC struct {
	Type          string
	UserData      map[string]any
	VMStartMillis int64
}

// Lifecycle carries an event that needs no extraction.
type Lifecycle struct {
	Event model.LifecycleEvent
}

// Raw is an undecoded JSON payload whose "type" field selects the variant.
type Raw struct {
	Payload []byte
}

func (RuntimeGC) notification() {}
func (HotSpotGC) notification() {}
func (Lifecycle) notification() {}
func (Raw) notification()       {}
