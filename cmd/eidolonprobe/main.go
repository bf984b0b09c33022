// Command eidolonprobe connects to an agent's telnet transport and prints a
// one-line summary of every snapshot it receives. With -once it requests a
// single snapshot and exits.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ziutek/telnet"

	"eidolon/codec"
)

type probeConfig struct {
	host    string
	port    int
	once    bool
	count   int
	timeout time.Duration
	raw     bool
}

func main() {
	host := flag.String("host", "localhost", "Agent host")
	port := flag.Int("port", 7091, "Agent telnet port")
	once := flag.Bool("once", false, "Request one snapshot and exit")
	count := flag.Int("count", 0, "Exit after this many snapshots (0 = run until the connection closes)")
	timeoutSec := flag.Int("timeout", 10, "Dial and idle read timeout in seconds")
	raw := flag.Bool("raw", false, "Print raw JSON instead of summaries")
	flag.Parse()

	cfg := probeConfig{
		host:    *host,
		port:    *port,
		once:    *once,
		count:   *count,
		timeout: time.Duration(*timeoutSec) * time.Second,
		raw:     *raw,
	}
	if err := run(cfg); err != nil {
		log.Fatalf("eidolonprobe: %v", err)
	}
}

func run(cfg probeConfig) error {
	addr := net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
	conn, err := telnet.DialTimeout("tcp", addr, cfg.timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if cfg.once {
		if _, err := conn.Write([]byte("SNAPSHOT\r\n")); err != nil {
			return fmt.Errorf("send SNAPSHOT: %w", err)
		}
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	seen := 0
	for {
		if cfg.timeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(cfg.timeout))
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if seen > 0 {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			if line != "" {
				fmt.Fprintf(os.Stderr, "%s\n", line)
			}
			continue
		}
		if cfg.raw {
			fmt.Println(line)
		} else {
			snap, err := codec.DecodeSnapshot([]byte(line))
			if err != nil {
				log.Printf("skipping undecodable line: %v", err)
				continue
			}
			fmt.Println(summarize(snap))
		}
		seen++
		if cfg.once || (cfg.count > 0 && seen >= cfg.count) {
			_, _ = conn.Write([]byte("BYE\r\n"))
			return nil
		}
	}
}

// summarize renders one snapshot as a single line.
func summarize(s codec.SnapshotDTO) string {
	heapMax := "unbounded"
	if s.Heap.Max >= 0 {
		heapMax = humanize.IBytes(uint64(s.Heap.Max))
	}
	used := int64(0)
	if s.Heap.Used > 0 {
		used = s.Heap.Used
	}
	line := fmt.Sprintf("%s heap %s/%s goroutines %s pools %d events %d",
		time.UnixMilli(s.TimestampMillis).Format("15:04:05"),
		humanize.IBytes(uint64(used)), heapMax,
		humanize.Comma(s.Threads.ThreadCount), len(s.Heap.Pools), len(s.RecentGCEvents))
	if n := len(s.RecentGCEvents); n > 0 {
		last := s.RecentGCEvents[n-1]
		line += fmt.Sprintf(" last %s/%s %s", last.GCName, last.GCCause, last.Duration())
	}
	return line
}
