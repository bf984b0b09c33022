// Command sampleapp is a toy workload with the agent embedded. It churns the
// heap, spawns short-lived goroutines, and reports its own batch checkpoints
// as lifecycle events so every snapshot view has something to show.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"eidolon/agent"
	"eidolon/config"
	"eidolon/ingest"
	"eidolon/model"
)

func main() {
	port := flag.Int("port", config.DefaultPort, "HTTP port")
	telnetPort := flag.Int("telnet_port", 0, "Telnet port (0 disables telnet)")
	interval := flag.Duration("interval", time.Second, "Broadcast interval")
	workers := flag.Int("workers", 8, "Concurrent allocation workers")
	flag.Parse()

	cfg := config.Default()
	cfg.Server.Port = *port
	cfg.WebSocket.IntervalMS = int(interval.Milliseconds())
	if *telnetPort > 0 {
		cfg.Telnet.Enabled = true
		cfg.Telnet.Port = *telnetPort
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("sampleapp: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(cfg, agent.Options{})
	if err != nil {
		log.Fatalf("sampleapp: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		log.Fatalf("sampleapp: %v", err)
	}
	defer a.Stop()
	log.Printf("sampleapp: snapshots at http://%s%s/api/metrics/snapshot", a.HTTPAddr(), cfg.Server.ContextPath)

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			churn(ctx, a.Ingestor())
		}()
	}
	wg.Wait()
	log.Println("sampleapp: stopped")
}

// churn allocates batches of garbage until ctx ends, reporting each batch.
func churn(ctx context.Context, ing *ingest.Ingestor) {
	var retained [][]byte
	for batch := 0; ; batch++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(50+rand.IntN(200)) * time.Millisecond):
		}
		start := time.Now()
		for i := 0; i < 64; i++ {
			retained = append(retained, make([]byte, 4096+rand.IntN(64*1024)))
		}
		if len(retained) > 2048 {
			retained = retained[len(retained)/2:]
		}
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(time.Duration(rand.IntN(20)) * time.Millisecond)
			}()
		}
		wg.Wait()
		if batch%10 == 0 {
			ing.Handle(ingest.Lifecycle{Event: model.LifecycleEvent{
				Source:    "sampleapp",
				Action:    "batch complete",
				Cause:     "workload",
				StartTime: start,
				Duration:  time.Since(start),
			}})
		}
	}
}
