package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"eidolon/config"
)

func TestLogFileName(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileName(when); got != "22-Jan-2026.log" {
		t.Fatalf("expected 22-Jan-2026.log, got %q", got)
	}
	day, ok := parseLogFileName("22-Jan-2026.log")
	if !ok || day.Day() != 22 || day.Month() != time.January {
		t.Fatalf("unexpected parse result %v %v", day, ok)
	}
	if _, ok := parseLogFileName("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"20-Jan-2026.log", "21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := pruneLogs(dir, now, 2); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "20-Jan-2026.log")); !os.IsNotExist(err) {
		t.Fatalf("expected 20-Jan-2026.log removed, stat err=%v", err)
	}
	for _, name := range []string{"21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestDailyLogSwitchesFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyLog(dir, 7)
	if err != nil {
		t.Fatalf("newDailyLog: %v", err)
	}
	day1 := time.Date(2026, time.January, 22, 23, 59, 0, 0, time.UTC)
	sink.WriteLine("first", day1)
	sink.WriteLine("second", day1.Add(2*time.Minute))
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first, err := os.ReadFile(filepath.Join(dir, "22-Jan-2026.log"))
	if err != nil {
		t.Fatalf("read first day: %v", err)
	}
	if !strings.HasSuffix(string(first), " first\n") {
		t.Fatalf("unexpected first day content %q", first)
	}
	second, err := os.ReadFile(filepath.Join(dir, "23-Jan-2026.log"))
	if err != nil {
		t.Fatalf("read second day: %v", err)
	}
	if !strings.HasPrefix(string(second), "2026/01/23 00:01:00 second") {
		t.Fatalf("unexpected second day content %q", second)
	}
}

func TestLogFanoutSplitsLines(t *testing.T) {
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{}, &console)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	fanout.SetConsole(&console, false)
	logger := log.New(fanout, "", 0)
	logger.Print("one")
	_, _ = fanout.Write([]byte("two\r\nthr"))
	_, _ = fanout.Write([]byte("ee\n"))
	if got := console.String(); got != "one\ntwo\nthree\n" {
		t.Fatalf("unexpected console output %q", got)
	}
}

func TestLogFanoutFileOnly(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{Enabled: true, Dir: dir, RetentionDays: 1}, &console)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	fanout.WriteFileOnly("stats line")
	if err := fanout.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if console.Len() != 0 {
		t.Fatalf("expected nothing on console, got %q", console.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, logFileName(time.Now())))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "stats line") {
		t.Fatalf("expected stats line in file, got %q", data)
	}
}
