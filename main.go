// Command eidolon runs the telemetry agent standalone: HTTP/WebSocket API,
// optional telnet and MQTT transports, and an optional console dashboard.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"eidolon/agent"
	"eidolon/config"
	"eidolon/subscriber"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const (
	defaultConfigPath = "data/config"
	statsInterval     = 30 * time.Second
)

// Purpose: Report whether stdout is a TTY for UI gating.
// Key aspects: Uses term.IsTerminal on stdout fd.
// Upstream: main UI selection.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Purpose: Load configuration from the env-selected path or the default dir.
// Key aspects: An explicit EIDOLON_CONFIG_PATH must exist; the default dir
// falls back to built-in defaults. Env overrides apply last.
// Upstream: main startup.
// Downstream: config.Load, config.LoadOrDefault, Config.ApplyEnv.
func loadAgentConfig() (*config.Config, string, error) {
	var (
		cfg *config.Config
		err error
	)
	if envPath := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); envPath != "" {
		cfg, err = config.Load(envPath)
	} else {
		cfg, err = config.LoadOrDefault(defaultConfigPath)
	}
	if err != nil {
		return nil, "", err
	}
	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	source := cfg.LoadedFrom
	if source == "" {
		source = "built-in defaults"
	}
	return cfg, source, nil
}

func main() {
	cfg, source, err := loadAgentConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	fanout, logErr := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Logging: file sink disabled: %v", logErr)
	}
	log.Printf("Loaded configuration from %s", source)

	var dash *dashboard
	switch cfg.UI.Mode {
	case config.UIModeTview:
		if !isStdoutTTY() {
			log.Printf("UI disabled (tview requires an interactive console)")
			break
		}
		dash = newDashboard()
		dash.WaitReady()
		defer dash.Stop()
		fanout.SetConsole(dash.SystemWriter(), true)
		dash.SetStats([]string{"Initializing..."})
	default:
		cfg.Print()
	}

	opts := agent.Options{}
	if dash != nil {
		opts.Subscribers = []subscriber.Subscriber{dash}
	}
	launcher := agent.NewLauncher(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("eidolon v%s starting...", Version)
	started, err := launcher.Start(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}
	if !started {
		log.Println("Agent disabled in configuration; exiting")
		return
	}
	a := launcher.Agent()
	if a == nil {
		log.Println("Agent stopped during startup; exiting")
		return
	}
	log.Printf("Serving on http://%s%s", a.HTTPAddr(), cfg.Server.ContextPath)
	if addr := a.TelnetAddr(); addr != "" {
		log.Printf("Connect via: telnet %s", addr)
	}

	go reportStats(ctx, a, fanout, dash)

	<-ctx.Done()
	log.Println("Shutting down gracefully...")
	launcher.Stop()
	log.Println("Shutdown complete")
}

// reportStats writes a summary to the log file, or the dashboard header when
// one is running, until ctx ends.
func reportStats(ctx context.Context, a *agent.Agent, fanout *logFanout, dash *dashboard) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	if dash != nil {
		dash.SetStats(statsLines(a))
		ticker.Reset(time.Second)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lines := statsLines(a)
			if dash != nil {
				dash.SetStats(lines)
				continue
			}
			for _, line := range lines {
				fanout.WriteFileOnly(line)
			}
		}
	}
}

func statsLines(a *agent.Agent) []string {
	broadcasts, deliveries, failures := a.Registry().Counters()
	ingest := a.Ingestor().Counters()
	uptime := a.Tracker().GetUptime().Round(time.Second)
	lines := []string{
		fmt.Sprintf("eidolon v%s | uptime %s | subscribers %d", Version, uptime, a.Registry().Size()),
		fmt.Sprintf("Broadcasts: %s | Deliveries: %s | Failures: %s | Events: %s accepted, %s filtered, %s malformed",
			humanize.Comma(int64(broadcasts)), humanize.Comma(int64(deliveries)), humanize.Comma(int64(failures)),
			humanize.Comma(int64(ingest.Accepted)), humanize.Comma(int64(ingest.Filtered)), humanize.Comma(int64(ingest.Malformed))),
	}
	return append(lines, a.Tracker().SnapshotLines()...)
}
