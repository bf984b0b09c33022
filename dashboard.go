package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"eidolon/codec"
	"eidolon/model"
)

const (
	transportDashboard = "dashboard"
	eventPaneLines     = 8
)

var errDashboardClosed = errors.New("dashboard closed")

// dashboard renders broadcast snapshots in the terminal. It is registered as
// a subscriber; Send keeps only the newest payload so a slow redraw never
// backs up the broadcaster.
type dashboard struct {
	app        *tview.Application
	statsView  *tview.TextView
	memoryView *tview.TextView
	threadView *tview.TextView
	eventView  *tview.TextView
	systemView *tview.TextView

	latest  chan []byte
	closed  atomic.Bool
	ready   chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newDashboard() *dashboard {
	makePane := func(title string) *tview.TextView {
		tv := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
		tv.SetBorder(true).SetTitle(" " + title + " ").SetTitleAlign(tview.AlignLeft)
		return tv
	}

	stats := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	stats.SetTextColor(tcell.ColorYellow)
	memory := makePane("Memory")
	threads := makePane("Goroutines")
	events := makePane("Recent GC")
	system := makePane("System")
	system.SetTextColor(tcell.ColorYellow)
	system.SetMaxLines(200)

	middle := tview.NewFlex().
		AddItem(memory, 0, 3, false).
		AddItem(threads, 0, 2, false)
	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(stats, 3, 0, false).
		AddItem(middle, 0, 3, false).
		AddItem(events, eventPaneLines+2, 0, false).
		AddItem(system, 0, 2, false)

	app := tview.NewApplication().SetRoot(layout, true).EnableMouse(false)
	ready := make(chan struct{})
	var readyOnce sync.Once
	app.SetBeforeDrawFunc(func(tcell.Screen) bool {
		readyOnce.Do(func() { close(ready) })
		return false
	})
	d := &dashboard{
		app:        app,
		statsView:  stats,
		memoryView: memory,
		threadView: threads,
		eventView:  events,
		systemView: system,
		latest:     make(chan []byte, 1),
		ready:      ready,
		stopped:    make(chan struct{}),
	}
	go d.renderLoop()
	go func() {
		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
	}()
	return d
}

// Send replaces any payload not yet rendered.
func (d *dashboard) Send(payload []byte) error {
	if d.closed.Load() {
		return errDashboardClosed
	}
	msg := append([]byte(nil), payload...)
	for {
		select {
		case d.latest <- msg:
			return nil
		default:
		}
		select {
		case <-d.latest:
		default:
		}
	}
}

func (d *dashboard) Transport() string { return transportDashboard }

func (d *dashboard) WaitReady() {
	<-d.ready
}

func (d *dashboard) Stop() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stopped)
		d.app.Stop()
	})
}

// SetStats replaces the header lines.
func (d *dashboard) SetStats(lines []string) {
	text := strings.Join(lines, "\n")
	d.app.QueueUpdateDraw(func() {
		d.statsView.SetText(text)
	})
}

// SystemWriter returns the log destination for the System pane.
func (d *dashboard) SystemWriter() *paneWriter {
	return &paneWriter{view: d.systemView, app: d.app}
}

type paneWriter struct {
	view *tview.TextView
	app  *tview.Application
}

func (w *paneWriter) Write(p []byte) (int, error) {
	text := string(p)
	w.app.QueueUpdateDraw(func() {
		fmt.Fprint(w.view, text)
		w.view.ScrollToEnd()
	})
	return len(p), nil
}

func (d *dashboard) renderLoop() {
	for {
		select {
		case <-d.stopped:
			return
		case payload := <-d.latest:
			snap, err := codec.DecodeSnapshot(payload)
			if err != nil {
				continue
			}
			memory, threads, events := renderSnapshot(snap)
			d.app.QueueUpdateDraw(func() {
				d.memoryView.SetText(memory)
				d.threadView.SetText(threads)
				d.eventView.SetText(events)
			})
		}
	}
}

// renderSnapshot formats the three snapshot panes.
func renderSnapshot(s codec.SnapshotDTO) (memory, threads, events string) {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]heap[-] used %s  committed %s  limit %s\n",
		formatBytes(s.Heap.Used), formatBytes(s.Heap.Committed), formatBytes(s.Heap.Max))
	for _, p := range s.Heap.Pools {
		line := fmt.Sprintf("%-18s %-8s %10s / %s", p.Name, p.Type, formatBytes(p.Usage.Used), formatBytes(p.Usage.Committed))
		if p.CollectionUsage != nil {
			line += "  after GC " + formatBytes(p.CollectionUsage.Used)
		}
		b.WriteString(line + "\n")
	}
	memory = b.String()

	b.Reset()
	fmt.Fprintf(&b, "live %s  peak %s  started %s  daemon %s\n",
		formatCount(s.Threads.ThreadCount), formatCount(s.Threads.PeakThreadCount),
		formatCount(s.Threads.TotalStartedThreadCount), formatCount(s.Threads.DaemonThreadCount))
	for _, st := range sortedStates(s.Threads.StateCounts) {
		fmt.Fprintf(&b, "%-14s %d\n", st, s.Threads.StateCounts[st])
	}
	fmt.Fprintf(&b, "modules %d", s.Classes.LoadedClassCount)
	threads = b.String()

	b.Reset()
	recent := s.RecentGCEvents
	if len(recent) > eventPaneLines {
		recent = recent[len(recent)-eventPaneLines:]
	}
	for _, ev := range recent {
		fmt.Fprintf(&b, "%s  %-4s %-18s %-10s %s\n",
			time.UnixMilli(ev.StartTimeMillis).Format("15:04:05.000"), ev.GCName, ev.GCAction, ev.GCCause, ev.Duration())
	}
	if len(recent) == 0 {
		b.WriteString("(none yet)")
	}
	events = b.String()
	return memory, threads, events
}

func formatBytes(v int64) string {
	if v < 0 {
		return "n/a"
	}
	return humanize.IBytes(uint64(v))
}

func formatCount(v int64) string {
	if v < 0 {
		return "n/a"
	}
	return humanize.Comma(v)
}

// sortedStates lists known states in their canonical order, then any others
// alphabetically.
func sortedStates(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, st := range model.AllThreadStates() {
		name := string(st)
		if _, ok := counts[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range counts {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
