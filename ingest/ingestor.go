package ingest

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"eidolon/buffer"
	"eidolon/filter"
	"eidolon/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	errUnrecognized = errors.New("ingest: unrecognized notification")
	errMalformed    = errors.New("ingest: malformed notification")
)

// Counters is a point-in-time copy of ingestion outcomes.
type Counters struct {
	Accepted     uint64
	Filtered     uint64
	Malformed    uint64
	Unrecognized uint64
	Dropped      uint64 // arrived after Stop
}

// Ingestor extracts lifecycle events and pushes accepted ones into the ring.
type Ingestor struct {
	ring    *buffer.EventRing
	sources filter.AllowList
	stopped atomic.Bool

	accepted     atomic.Uint64
	filtered     atomic.Uint64
	malformed    atomic.Uint64
	unrecognized atomic.Uint64
	dropped      atomic.Uint64

	onAccept func(model.LifecycleEvent)
}

// NewIngestor binds an ingestor to ring with the event-source allow-list.
func NewIngestor(ring *buffer.EventRing, sources filter.AllowList) *Ingestor {
	return &Ingestor{ring: ring, sources: sources}
}

// SetAcceptHook registers fn to observe each accepted event after it is stored.
// Must be called before the first Handle.
func (i *Ingestor) SetAcceptHook(fn func(model.LifecycleEvent)) {
	i.onAccept = fn
}

// Purpose: Accept one notification from any goroutine.
// Key aspects: Type-switch dispatch; unrecognized and malformed input is
// counted and dropped; panics during extraction are contained.
// Upstream: GCWatcher, MQTTSource, host code.
// Downstream: buffer.EventRing.Push.
func (i *Ingestor) Handle(n Notification) {
	if i == nil {
		return
	}
	if i.stopped.Load() {
		i.dropped.Add(1)
		return
	}
	ev, err := safeExtract(n)
	switch {
	case errors.Is(err, errUnrecognized):
		i.unrecognized.Add(1)
		return
	case err != nil:
		i.malformed.Add(1)
		return
	}
	if !i.sources.Allows(ev.Source) {
		i.filtered.Add(1)
		return
	}
	i.ring.Push(ev)
	i.accepted.Add(1)
	if i.onAccept != nil {
		i.notifyAccept(ev)
	}
}

func (i *Ingestor) notifyAccept(ev model.LifecycleEvent) {
	defer func() {
		_ = recover()
	}()
	i.onAccept(ev)
}

// HandleRaw is shorthand for Handle(Raw{Payload: payload}).
func (i *Ingestor) HandleRaw(payload []byte) {
	i.Handle(Raw{Payload: payload})
}

// Stop makes later notifications no-ops. Safe to call repeatedly.
func (i *Ingestor) Stop() {
	if i == nil {
		return
	}
	i.stopped.Store(true)
}

// Counters returns the current outcome counts.
func (i *Ingestor) Counters() Counters {
	return Counters{
		Accepted:     i.accepted.Load(),
		Filtered:     i.filtered.Load(),
		Malformed:    i.malformed.Load(),
		Unrecognized: i.unrecognized.Load(),
		Dropped:      i.dropped.Load(),
	}
}

func safeExtract(n Notification) (ev model.LifecycleEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", errMalformed, r)
		}
	}()
	return extract(n)
}

func extract(n Notification) (model.LifecycleEvent, error) {
	switch v := n.(type) {
	case RuntimeGC:
		return fromRuntimeGC(v), nil
	case HotSpotGC:
		return fromHotSpot(v)
	case Lifecycle:
		return fromLifecycle(v.Event)
	case Raw:
		return fromRaw(v.Payload)
	default:
		return model.LifecycleEvent{}, errUnrecognized
	}
}

func fromRuntimeGC(gc RuntimeGC) model.LifecycleEvent {
	cause := "automatic"
	if gc.Forced {
		cause = "forced"
	}
	return model.LifecycleEvent{
		Source:    GoRuntimeSource,
		Action:    "end of GC pause",
		Cause:     cause,
		StartTime: gc.End.Add(-gc.Pause),
		Duration:  gc.Pause,
	}
}

func fromLifecycle(ev model.LifecycleEvent) (model.LifecycleEvent, error) {
	if strings.TrimSpace(ev.Source) == "" || ev.Duration < 0 {
		return model.LifecycleEvent{}, errMalformed
	}
	return ev, nil
}

func fromHotSpot(n HotSpotGC) (model.LifecycleEvent, error) {
	if n.Type != HotSpotGCType {
		return model.LifecycleEvent{}, errUnrecognized
	}
	if n.UserData == nil {
		return model.LifecycleEvent{}, errMalformed
	}
	name, ok := n.UserData["gcName"].(string)
	if !ok || name == "" {
		return model.LifecycleEvent{}, errMalformed
	}
	action, _ := n.UserData["gcAction"].(string)
	cause, _ := n.UserData["gcCause"].(string)
	info, ok := n.UserData["gcInfo"].(map[string]any)
	if !ok {
		return model.LifecycleEvent{}, errMalformed
	}
	start, ok := toInt64(info["startTime"])
	if !ok {
		return model.LifecycleEvent{}, errMalformed
	}
	startMillis, ok := addMillis(n.VMStartMillis, start)
	if !ok {
		return model.LifecycleEvent{}, errMalformed
	}
	durationMillis, ok := toInt64(info["duration"])
	if !ok {
		return model.LifecycleEvent{}, errMalformed
	}
	duration, ok := millisToDuration(durationMillis)
	if !ok {
		return model.LifecycleEvent{}, errMalformed
	}
	return model.LifecycleEvent{
		Source:    name,
		Action:    action,
		Cause:     cause,
		StartTime: time.UnixMilli(startMillis).UTC(),
		Duration:  duration,
	}, nil
}

// maxDurationMillis is the largest millisecond count a time.Duration holds.
const maxDurationMillis = math.MaxInt64 / int64(time.Millisecond)

func millisToDuration(ms int64) (time.Duration, bool) {
	if ms < 0 || ms > maxDurationMillis {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// addMillis adds two epoch offsets, reporting false on int64 overflow.
func addMillis(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

type rawEnvelope struct {
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	Action      string         `json:"action"`
	Cause       string         `json:"cause"`
	StartMillis int64          `json:"startTimeMillis"`
	DurationMs  int64          `json:"durationMillis"`
	VMStart     int64          `json:"vmStartTime"`
	UserData    map[string]any `json:"userData"`
}

func fromRaw(payload []byte) (model.LifecycleEvent, error) {
	if len(payload) == 0 {
		return model.LifecycleEvent{}, errMalformed
	}
	var env rawEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return model.LifecycleEvent{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch env.Type {
	case LifecycleType:
		duration, ok := millisToDuration(env.DurationMs)
		if !ok {
			return model.LifecycleEvent{}, errMalformed
		}
		return fromLifecycle(model.LifecycleEvent{
			Source:    env.Source,
			Action:    env.Action,
			Cause:     env.Cause,
			StartTime: time.UnixMilli(env.StartMillis).UTC(),
			Duration:  duration,
		})
	case HotSpotGCType:
		return fromHotSpot(HotSpotGC{Type: env.Type, UserData: env.UserData, VMStartMillis: env.VMStart})
	default:
		return model.LifecycleEvent{}, errUnrecognized
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		return floatToInt64(n)
	case jsoniter.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	default:
		return 0, false
	}
}

// floatToInt64 truncates f, rejecting non-finite and out-of-range values.
func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
