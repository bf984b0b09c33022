// Package agent assembles the telemetry components into one embeddable unit.
//
// Startup order: event ring, ingestor, aggregator, registry, GC watcher, MQTT
// source, HTTP, telnet, MQTT publisher, broadcast scheduler. Stop reverses it
// and clears the ring last.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"eidolon/aggregate"
	"eidolon/api"
	"eidolon/broadcast"
	"eidolon/buffer"
	"eidolon/codec"
	"eidolon/config"
	"eidolon/filter"
	"eidolon/ingest"
	"eidolon/internal/ratelimit"
	"eidolon/model"
	"eidolon/provider"
	"eidolon/stats"
	"eidolon/subscriber"
	"eidolon/telnet"
	"eidolon/transport/mqttpub"
)

var (
	ErrStopped = errors.New("agent: stopped")
	ErrRunning = errors.New("agent: already running")
)

const stopTimeout = 5 * time.Second

// Options carries host-supplied collaborators. The zero value uses the Go
// runtime provider and the standard logger.
type Options struct {
	Provider provider.Provider
	// StringTable supplies interning statistics when the host has them.
	StringTable provider.StringTableFunc
	// Subscribers are registered at Start, before the first broadcast.
	Subscribers []subscriber.Subscriber
	// DisableGCWatcher skips automatic GC cycle reporting.
	DisableGCWatcher bool
	Logger           *log.Logger
}

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Agent owns every running component.
type Agent struct {
	cfg    *config.Config
	opts   Options
	logger *log.Logger

	ring       *buffer.EventRing
	ingestor   *ingest.Ingestor
	aggregator *aggregate.Aggregator
	registry   *subscriber.Registry
	tracker    *stats.Tracker
	collector  *stats.Collector
	scheduler  *broadcast.Scheduler
	watcher    *ingest.GCWatcher
	mqttSource *ingest.MQTTSource
	publisher  *mqttpub.Publisher
	http       *api.Server
	telnet     *telnet.Server

	started    time.Time
	failureLog *ratelimit.Logger
	tickLog    *ratelimit.Logger

	mu     sync.Mutex
	state  state
	stopCh chan struct{}
}

// New builds the core components from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Agent, error) {
	if cfg == nil {
		cfg = config.Default()
		cfg.Normalize()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	prov := opts.Provider
	if prov == nil {
		prov = provider.NewRuntime()
	}
	prov = provider.WithStringTable(prov, opts.StringTable)

	a := &Agent{
		cfg:        cfg,
		opts:       opts,
		logger:     opts.Logger,
		tracker:    stats.NewTracker(),
		failureLog: ratelimit.NewLogger("agent: delivery failed: ", time.Minute),
		tickLog:    ratelimit.NewLogger("agent: broadcast tick: ", time.Minute),
		stopCh:     make(chan struct{}),
	}
	a.ring = buffer.NewEventRing(cfg.Events.BufferSize)
	filters := filter.NewConfig(cfg.Filters.MemoryPools, cfg.Filters.EventSources, cfg.Filters.ThreadNamePrefixes)
	a.ingestor = ingest.NewIngestor(a.ring, filters.EventSources)
	a.aggregator = aggregate.New(aggregate.Options{
		Provider:           prov,
		Ring:               a.ring,
		Filters:            filters,
		CollectStringTable: cfg.Collect.StringTable,
	})
	a.registry = subscriber.NewRegistry(a.deliveryFailed)

	if cfg.WebSocket.Enabled {
		sched, err := broadcast.NewScheduler(broadcast.Options{
			Interval: cfg.WebSocket.Interval(),
			Capturer: a.aggregator,
			Encoder:  codec.JSON{},
			Target:   a.registry,
			OnError: func(err error) {
				a.tickLog.Printf("%v", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
		a.scheduler = sched
	}

	a.collector = stats.NewCollector(stats.Sources{
		Scheduler:   a.schedulerStats,
		Registry:    a.registry.Counters,
		Subscribers: a.registry.Size,
		Ingest:      a.ingestor.Counters,
		Captures:    a.aggregator.Counters,
		Unmapped:    a.aggregator.UnmappedStates,
		Ring: func() (int, int, uint64) {
			return a.ring.Len(), a.ring.Cap(), a.ring.Evicted()
		},
		Tracker: a.tracker,
	})
	return a, nil
}

func (a *Agent) schedulerStats() broadcast.Stats {
	if a.scheduler == nil {
		return broadcast.Stats{}
	}
	return a.scheduler.Stats()
}

// deliveryFailed counts drops per transport and logs at a bounded rate.
func (a *Agent) deliveryFailed(sub subscriber.Subscriber, err error) {
	label := "subscriber"
	if t, ok := sub.(interface{ Transport() string }); ok {
		label = t.Transport()
	}
	a.tracker.PayloadDropped(label)
	a.failureLog.Printf("%s: %v", label, err)
}

// Purpose: Bring every configured component up.
// Key aspects: Listeners and broker connections start concurrently; a bind
// failure stops whatever already started and is returned. Broker failures
// are logged and leave the agent running without that component. The agent
// stops itself when ctx is cancelled.
// Upstream: Launcher.Start, embedding hosts.
// Downstream: api.Server, telnet.Server, MQTT clients, GCWatcher, Scheduler.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case stateRunning:
		return ErrRunning
	case stateStopped:
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.started = time.Now()

	for _, warning := range a.aggregator.CheckFilters() {
		a.logger.Printf("agent: %s", warning)
	}

	if err := a.startTransports(ctx); err != nil {
		a.stopTransports()
		a.state = stateStopped
		a.ring.Clear()
		return err
	}

	if !a.opts.DisableGCWatcher {
		a.watcher = ingest.NewGCWatcher(a.ingestor.Handle)
		a.watcher.Start()
	}
	for _, sub := range a.opts.Subscribers {
		a.registry.Add(sub)
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			a.logger.Printf("agent: scheduler: %v", err)
		}
	}
	a.state = stateRunning
	a.logger.Printf("agent: started (http %s%s, event buffer %d)", a.HTTPAddr(), a.cfg.Server.ContextPath, a.ring.Cap())

	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-a.stopCh:
		}
	}()
	return nil
}

func (a *Agent) startTransports(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.MQTT.Enabled {
		a.mqttSource = ingest.NewMQTTSource(ingest.MQTTOptions{
			Broker:   a.cfg.MQTT.Broker,
			Port:     a.cfg.MQTT.Port,
			Topic:    a.cfg.MQTT.EventTopic,
			ClientID: clientID(a.cfg.MQTT.ClientID, "ingest"),
		}, a.ingestor.Handle)
		a.publisher = mqttpub.New(mqttpub.Options{
			Broker:   a.cfg.MQTT.Broker,
			Port:     a.cfg.MQTT.Port,
			Topic:    a.cfg.MQTT.PublishTopic,
			ClientID: clientID(a.cfg.MQTT.ClientID, "publish"),
		})
		g.Go(func() error {
			if err := a.mqttSource.Connect(); err != nil {
				a.logger.Printf("agent: mqtt source disabled: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := a.publisher.Connect(); err != nil {
				a.logger.Printf("agent: mqtt publisher disabled: %v", err)
				return nil
			}
			a.registry.Add(a.publisher)
			a.tracker.ConnectionOpened(mqttpub.TransportMQTT)
			return nil
		})
	}

	a.http = api.NewServer(a.aggregator, a.apiOptions())
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		return a.http.Start()
	})

	if a.cfg.Telnet.Enabled {
		a.telnet = telnet.NewServer(telnet.ServerOptions{
			Addr:           net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Telnet.Port)),
			Transport:      a.cfg.Telnet.Transport,
			MaxConnections: a.cfg.Telnet.MaxConnections,
			ClientBuffer:   a.cfg.Telnet.ClientBuffer,
			WelcomeMessage: a.cfg.Telnet.WelcomeMessage,
			Snapshot:       a.EncodeSnapshot,
			Registry:       a.registry,
			Tracker:        a.tracker,
			Logger:         a.logger,
		})
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return a.telnet.Start()
		})
	}
	return g.Wait()
}

func clientID(base, role string) string {
	if base == "" {
		return ""
	}
	return base + "-" + role
}

func (a *Agent) apiOptions() api.ServerOptions {
	opts := api.ServerOptions{
		Addr:             net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		ContextPath:      a.cfg.Server.ContextPath,
		WebSocketEnabled: a.cfg.WebSocket.Enabled,
		ClientBuffer:     a.cfg.Telnet.ClientBuffer,
		Registry:         a.registry,
		Tracker:          a.tracker,
		Runtime:          a.RuntimeInfo,
		Logger:           a.logger,
	}
	if a.cfg.Metrics.Enabled {
		if handler, err := stats.Handler(a.collector); err != nil {
			a.logger.Printf("agent: metrics disabled: %v", err)
		} else {
			opts.MetricsPath = a.cfg.Metrics.Path
			opts.MetricsHandler = handler
		}
	}
	return opts
}

// Stop tears everything down in reverse start order. Safe to call more than
// once and before Start.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateStopped {
		return
	}
	wasRunning := a.state == stateRunning
	a.state = stateStopped
	close(a.stopCh)

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.stopTransports()
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.ingestor.Stop()
	a.ring.Clear()
	if wasRunning {
		a.logger.Printf("agent: stopped after %s", time.Since(a.started).Round(time.Second))
	}
}

func (a *Agent) stopTransports() {
	if a.publisher != nil {
		a.registry.Remove(a.publisher)
		a.publisher.Stop()
	}
	if a.telnet != nil {
		a.telnet.Stop()
	}
	if a.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := a.http.Stop(ctx); err != nil {
			a.logger.Printf("agent: http shutdown: %v", err)
		}
		cancel()
	}
	if a.mqttSource != nil {
		a.mqttSource.Stop()
	}
}

// Running reports whether Start succeeded and Stop has not been called.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateRunning
}

// Capture returns a fresh snapshot.
func (a *Agent) Capture() model.Snapshot {
	return a.aggregator.Capture()
}

// EncodeSnapshot captures and encodes one snapshot in the wire format.
func (a *Agent) EncodeSnapshot() ([]byte, error) {
	return codec.JSON{}.Encode(a.aggregator.Capture())
}

// RuntimeInfo describes the process and the effective agent settings.
func (a *Agent) RuntimeInfo() codec.RuntimeDTO {
	return codec.FromRuntime(provider.ReadRuntimeInfo(a.started), codec.AgentSettings{
		Host:                    a.cfg.Server.Host,
		Port:                    a.cfg.Server.Port,
		ContextPath:             a.cfg.Server.ContextPath,
		WebsocketEnabled:        a.cfg.WebSocket.Enabled,
		WebsocketIntervalMillis: int64(a.cfg.WebSocket.IntervalMS),
		GCEventBufferSize:       a.cfg.Events.BufferSize,
		CollectStringTable:      a.cfg.Collect.StringTable,
	})
}

// HTTPAddr returns the bound HTTP address once started.
func (a *Agent) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// TelnetAddr returns the bound telnet address, or "" when telnet is off.
func (a *Agent) TelnetAddr() string {
	if a.telnet == nil {
		return ""
	}
	return a.telnet.Addr()
}

// Ingestor accepts host-side lifecycle notifications.
func (a *Agent) Ingestor() *ingest.Ingestor { return a.ingestor }

// Registry is the subscriber set broadcasts go to.
func (a *Agent) Registry() *subscriber.Registry { return a.registry }

// Tracker holds per-transport connection counters.
func (a *Agent) Tracker() *stats.Tracker { return a.tracker }

// Scheduler is nil when periodic broadcast is disabled.
func (a *Agent) Scheduler() *broadcast.Scheduler { return a.scheduler }

// Config returns the configuration the agent was built with.
func (a *Agent) Config() *config.Config { return a.cfg }
