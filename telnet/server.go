// Package telnet is a line-oriented subscriber transport. Each connected
// client receives every broadcast snapshot as one JSON line and can issue a
// few commands:
//
//	SNAPSHOT  reply with a fresh snapshot
//	PING      reply PONG
//	HELP      list commands
//	BYE       close the session (QUIT and EXIT are aliases)
//
// Connection lifecycle:
//  1. Accept, enforce MaxConnections, optional telnet option negotiation
//  2. Welcome line, then registration with the subscriber registry
//  3. Command loop until BYE, read error, or server Stop
//
// Concurrency:
//   - clientsMu protects the client set
//   - each client has a sender goroutine draining a bounded queue; a full
//     queue drops the payload for that client only
//   - command replies and queued payloads share writeMu so lines never
//     interleave
package telnet

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ztelnet "github.com/ziutek/telnet"

	"eidolon/stats"
	"eidolon/subscriber"
)

// TransportTelnet labels telnet subscribers in stats.
const TransportTelnet = "telnet"

// Telnet protocol bytes consumed from client input or sent during
// negotiation.
const (
	IAC  = 255
	DONT = 254
	DO   = 253
	WONT = 252
	WILL = 251
	SB   = 250
	SE   = 240
)

const (
	defaultClientBuffer  = 16
	defaultSendDeadline  = 2 * time.Second
	defaultCommandLimit  = 128
	defaultWelcome       = "eidolon telemetry - type HELP for commands"
	transportZiutek      = "ziutek"
	serverFullMessage    = "Server full. Try again later.\r\n"
	helpMessage          = "Commands: SNAPSHOT, PING, HELP, BYE"
	unknownCommandFormat = "Unknown command %q. Type HELP for usage."
)

var (
	errClientClosed = errors.New("telnet client closed")
	errQueueFull    = errors.New("telnet send queue full")
	errLineTooLong  = errors.New("line too long")
)

// ServerOptions configures the telnet server.
type ServerOptions struct {
	Addr           string
	Transport      string // "native" or "ziutek"
	MaxConnections int    // 0 means unlimited
	ClientBuffer   int
	WelcomeMessage string
	SkipHandshake  bool
	// Snapshot renders an on-demand snapshot for the SNAPSHOT command.
	Snapshot func() ([]byte, error)
	Registry *subscriber.Registry
	Tracker  *stats.Tracker
	Logger   *log.Logger
}

// Server accepts telnet sessions and registers each as a subscriber.
type Server struct {
	opts      ServerOptions
	logger    *log.Logger
	useZiutek bool

	listener  net.Listener
	clients   map[*Client]struct{}
	clientsMu sync.RWMutex
	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	rejected atomic.Uint64
}

// Client is one telnet session.
type Client struct {
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	writeMu   sync.Mutex
	address   string
	connected time.Time
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	skipNextEOL bool
	dropCount   atomic.Uint64
}

// NewServer creates a server. Call Start to listen.
func NewServer(opts ServerOptions) *Server {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = defaultClientBuffer
	}
	if strings.TrimSpace(opts.WelcomeMessage) == "" {
		opts.WelcomeMessage = defaultWelcome
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	opts.Transport = strings.ToLower(strings.TrimSpace(opts.Transport))
	return &Server{
		opts:      opts,
		logger:    opts.Logger,
		useZiutek: opts.Transport == transportZiutek,
		clients:   make(map[*Client]struct{}),
		shutdown:  make(chan struct{}),
	}
}

// Start begins listening for telnet connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to start telnet server: %w", err)
	}
	s.listener = listener
	s.logger.Printf("Telnet server listening on %s (%s transport)", listener.Addr(), s.transportLabel())
	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

func (s *Server) transportLabel() string {
	if s.useZiutek {
		return transportZiutek
	}
	return "native"
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Printf("Telnet: error accepting connection: %v", err)
			return
		}

		if s.opts.MaxConnections > 0 && s.GetClientCount() >= s.opts.MaxConnections {
			_, _ = conn.Write([]byte(serverFullMessage))
			conn.Close()
			total := s.rejected.Add(1)
			s.logger.Printf("Telnet: rejected %s: max connections reached (%d, total rejected=%d)", conn.RemoteAddr(), s.opts.MaxConnections, total)
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(2 * time.Minute)
		}
		s.wg.Add(1)
		go s.handleClient(conn)
	}
}

// handleClient runs one session until BYE, a read error, or shutdown.
func (s *Server) handleClient(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	address := conn.RemoteAddr().String()
	readerConn := net.Conn(conn)
	writerConn := net.Conn(conn)
	if s.useZiutek {
		tconn, err := ztelnet.NewConn(conn)
		if err != nil {
			s.logger.Printf("Telnet: failed to wrap connection from %s: %v", address, err)
			return
		}
		readerConn = tconn
		writerConn = tconn
	}
	client := &Client{
		conn:      conn,
		reader:    bufio.NewReader(readerConn),
		writer:    bufio.NewWriter(writerConn),
		address:   address,
		connected: time.Now(),
		sendCh:    make(chan []byte, s.opts.ClientBuffer),
		done:      make(chan struct{}),
	}

	if !s.useZiutek {
		s.negotiateTelnet(client)
	}
	if err := client.writeLine(s.opts.WelcomeMessage); err != nil {
		return
	}

	if !s.registerClient(client) {
		return
	}
	defer s.unregisterClient(client)

	senderDone := make(chan struct{})
	go func() {
		client.sender()
		close(senderDone)
	}()
	defer func() {
		client.close()
		<-senderDone
	}()

	for {
		line, err := client.ReadLine(defaultCommandLimit)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				_ = client.writeLine(fmt.Sprintf("Input exceeds %d characters.", defaultCommandLimit))
				continue
			}
			return
		}
		if !s.handleCommand(client, line) {
			return
		}
	}
}

// handleCommand executes one command line. It reports false when the session
// should end.
func (s *Server) handleCommand(client *Client, line string) bool {
	cmd := strings.ToUpper(strings.TrimSpace(line))
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "":
		return true
	case "SNAPSHOT":
		if s.opts.Snapshot == nil {
			_ = client.writeLine("Snapshots are not available.")
			return true
		}
		payload, err := s.opts.Snapshot()
		if err != nil {
			s.logger.Printf("Telnet: snapshot for %s failed: %v", client.address, err)
			_ = client.writeLine("Snapshot failed.")
			return true
		}
		return client.writeLine(string(payload)) == nil
	case "PING":
		return client.writeLine("PONG") == nil
	case "HELP", "?":
		return client.writeLine(helpMessage) == nil
	case "BYE", "QUIT", "EXIT":
		_ = client.writeLine("Goodbye.")
		return false
	default:
		return client.writeLine(fmt.Sprintf(unknownCommandFormat, cmd)) == nil
	}
}

func (s *Server) negotiateTelnet(client *Client) {
	if s.opts.SkipHandshake {
		return
	}
	// Suppress go-ahead and let the client echo locally.
	sendTelnetOption(client.conn, WILL, 3)
	sendTelnetOption(client.conn, DO, 3)
	sendTelnetOption(client.conn, WONT, 1)
}

func sendTelnetOption(conn net.Conn, command, option byte) {
	if err := conn.SetWriteDeadline(time.Now().Add(defaultSendDeadline)); err != nil {
		return
	}
	_, _ = conn.Write([]byte{IAC, command, option})
	_ = conn.SetWriteDeadline(time.Time{})
}

func (s *Server) registerClient(client *Client) bool {
	s.clientsMu.Lock()
	select {
	case <-s.shutdown:
		s.clientsMu.Unlock()
		return false
	default:
	}
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	if s.opts.Registry != nil {
		s.opts.Registry.Add(client)
	}
	if s.opts.Tracker != nil {
		s.opts.Tracker.ConnectionOpened(TransportTelnet)
	}
	s.logger.Printf("Telnet: registered %s (total: %d)", client.address, total)
	return true
}

func (s *Server) unregisterClient(client *Client) {
	if s.opts.Registry != nil {
		s.opts.Registry.Remove(client)
	}
	s.clientsMu.Lock()
	delete(s.clients, client)
	total := len(s.clients)
	s.clientsMu.Unlock()
	if s.opts.Tracker != nil {
		s.opts.Tracker.ConnectionClosed(TransportTelnet)
	}
	if drops := client.dropCount.Load(); drops > 0 {
		s.logger.Printf("Telnet: unregistered %s after %s (total: %d, dropped %d payloads)", client.address, time.Since(client.connected).Round(time.Second), total, drops)
		return
	}
	s.logger.Printf("Telnet: unregistered %s after %s (total: %d)", client.address, time.Since(client.connected).Round(time.Second), total)
}

// GetClientCount returns the number of registered sessions.
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Rejected returns how many connections were refused at the limit.
func (s *Server) Rejected() uint64 {
	return s.rejected.Load()
}

// Stop closes the listener and every session, then waits for their
// goroutines. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Println("Stopping telnet server...")
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}
		s.clientsMu.Lock()
		for client := range s.clients {
			client.conn.Close()
		}
		s.clientsMu.Unlock()
		s.wg.Wait()
	})
}
