package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"eidolon/config"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFileDateLayout  = "02-Jan-2006"
	maxPendingLogBytes = 16 * 1024
)

// lineWriter receives complete log lines.
type lineWriter interface {
	WriteLine(line string, now time.Time)
	Close() error
}

type streamWriter struct {
	w         io.Writer
	timestamp bool
}

func (s *streamWriter) WriteLine(line string, now time.Time) {
	if s.timestamp {
		line = now.UTC().Format(logTimestampLayout) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *streamWriter) Close() error { return nil }

// dailyLog appends to DD-Mon-YYYY.log in dir, switching files at UTC midnight
// and deleting files older than the retention window.
type dailyLog struct {
	mu        sync.Mutex
	dir       string
	retention int
	day       string
	file      *os.File
	lastErr   time.Time
}

// Purpose: Open the daily file sink.
// Key aspects: Creates dir and prunes expired files up front; the file itself
// opens lazily on the first line.
// Upstream: setupLogging.
// Downstream: os.MkdirAll, pruneLogs.
func newDailyLog(dir string, retentionDays int) (*dailyLog, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if retentionDays <= 0 {
		retentionDays = config.DefaultLogRetentionDays
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	if err := pruneLogs(dir, time.Now().UTC(), retentionDays); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: cleanup failed for %s: %v\n", dir, err)
	}
	return &dailyLog{dir: dir, retention: retentionDays}, nil
}

func (d *dailyLog) WriteLine(line string, now time.Time) {
	now = now.UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	if day := now.Format(logFileDateLayout); d.file == nil || d.day != day {
		d.switchDayLocked(day, now)
	}
	if d.file == nil {
		return
	}
	if _, err := d.file.WriteString(now.Format(logTimestampLayout) + " " + line + "\n"); err != nil {
		d.reportLocked(now, fmt.Errorf("write failed: %w", err))
	}
}

func (d *dailyLog) switchDayLocked(day string, now time.Time) {
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	path := filepath.Join(d.dir, logFileName(now))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		d.reportLocked(now, fmt.Errorf("open failed for %s: %w", path, err))
		return
	}
	d.file = file
	d.day = day
	if err := pruneLogs(d.dir, now, d.retention); err != nil {
		d.reportLocked(now, fmt.Errorf("cleanup failed: %w", err))
	}
}

// reportLocked prints sink errors to stderr at most once a minute.
func (d *dailyLog) reportLocked(now time.Time, err error) {
	if !d.lastErr.IsZero() && now.Sub(d.lastErr) < time.Minute {
		return
	}
	d.lastErr = now
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

func (d *dailyLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.day = ""
	return err
}

// logFanout is the log.Logger output. It splits writes into lines and copies
// each to the console (or dashboard) and the optional file.
type logFanout struct {
	mu      sync.Mutex
	pending []byte
	console lineWriter
	file    lineWriter
}

// Purpose: Build the process log writer from config.
// Key aspects: Always returns a usable fanout; a file sink failure is
// returned alongside so startup can report it and continue.
// Upstream: main.
// Downstream: newDailyLog.
func setupLogging(cfg config.LoggingConfig, console io.Writer) (*logFanout, error) {
	f := &logFanout{console: &streamWriter{w: console, timestamp: true}}
	if !cfg.Enabled {
		return f, nil
	}
	file, err := newDailyLog(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return f, err
	}
	f.file = file
	return f, nil
}

// SetConsole swaps the console writer, e.g. for the dashboard's System pane.
func (f *logFanout) SetConsole(w io.Writer, timestamp bool) {
	var sink lineWriter
	if w != nil {
		sink = &streamWriter{w: w, timestamp: timestamp}
	}
	f.mu.Lock()
	f.console = sink
	f.mu.Unlock()
}

func (f *logFanout) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.pending = append(f.pending, p...)
	var lines []string
	for {
		idx := bytes.IndexByte(f.pending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(f.pending[:idx], "\r")))
		f.pending = f.pending[idx+1:]
	}
	if len(f.pending) > maxPendingLogBytes {
		lines = append(lines, string(f.pending))
		f.pending = nil
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	console, file := f.console, f.file
	f.mu.Unlock()

	now := time.Now()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

// WriteFileOnly records line in the log file without echoing it to the
// console. Used for the periodic stats summary.
func (f *logFanout) WriteFileOnly(line string) {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file != nil {
		file.WriteLine(line, time.Now())
	}
}

func (f *logFanout) Close() error {
	f.mu.Lock()
	console, file := f.console, f.file
	f.mu.Unlock()
	if console != nil {
		_ = console.Close()
	}
	if file != nil {
		return file.Close()
	}
	return nil
}

func logFileName(now time.Time) string {
	return now.UTC().Format(logFileDateLayout) + ".log"
}

func parseLogFileName(name string) (time.Time, bool) {
	base, ok := strings.CutSuffix(name, ".log")
	if !ok {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(logFileDateLayout, base, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// pruneLogs removes daily files older than retentionDays, counting today.
func pruneLogs(dir string, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retentionDays - 1))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if day, ok := parseLogFileName(entry.Name()); ok && day.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
