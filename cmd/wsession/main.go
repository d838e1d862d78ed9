// Command wsession keeps a session with a JSON-over-WebSocket server open from the terminal.
//
// Every inbound frame is printed to stdout as one JSON line. Lines read from stdin are sent as
// frames: "TYPE" or "TYPE {json payload}". ":reconnect" forces a reconnect and ":status" prints
// the connection record. EOF or SIGINT ends the session.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sonirico/wsession"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type config struct {
	url         string
	configPath  string
	logLevel    string
	metricsAddr string
}

func parseFlags(args []string, stderr io.Writer) (config, error) {
	var cfg config

	fs := flag.NewFlagSet("wsession", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.url, "url", "", "server url (ws:// or wss://), overrides the config file")
	fs.StringVar(&cfg.configPath, "config", "", "path to config file (YAML)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if cfg.url == "" && cfg.configPath == "" {
		return config{}, errors.New("either -url or -config is required")
	}
	return cfg, nil
}

func loadOptions(cfg config) (wsession.Options, error) {
	if cfg.configPath == "" {
		opts := wsession.DefaultOptions(cfg.url)
		return opts, opts.Validate()
	}

	f, err := os.Open(cfg.configPath)
	if err != nil {
		return wsession.Options{}, errors.Wrap(err, "cannot open config")
	}
	defer f.Close()

	if cfg.url == "" {
		return wsession.LoadOptions(f)
	}

	// -url wins over the file, which may then omit it
	opts, err := wsession.LoadOptions(f)
	if err != nil && !errors.Is(err, wsession.ErrInvalidOptions) {
		return wsession.Options{}, err
	}
	opts.URL = cfg.url
	return opts, opts.Validate()
}

func newLogger(level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "invalid log level %q", level)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "wsession").Logger(), nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	zl, err := newLogger(cfg.logLevel, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	opts, err := loadOptions(cfg)
	if err != nil {
		zl.Error().Err(err).Str("config_path", cfg.configPath).Msg("failed to load configuration")
		return 1
	}

	reg := prometheus.NewRegistry()
	metrics, err := wsession.NewMetrics(reg, "wsession")
	if err != nil {
		zl.Error().Err(err).Msg("failed to register metrics")
		return 1
	}

	if cfg.metricsAddr != "" {
		srv, err := serveMetrics(cfg.metricsAddr, reg, zl)
		if err != nil {
			zl.Error().Err(err).Str("addr", cfg.metricsAddr).Msg("metrics server failed to bind")
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	m, err := wsession.New(opts,
		wsession.WithLogger(wsession.NewZerologLogger(zl)),
		wsession.WithMetrics(metrics),
	)
	if err != nil {
		zl.Error().Err(err).Msg("invalid options")
		return 1
	}
	defer m.Close()

	out := &lineWriter{w: stdout}

	m.Subscribe(wsession.Wildcard, func(f wsession.Frame) {
		bts, err := f.Encode()
		if err != nil {
			return
		}
		out.println(string(bts))
	})

	m.Watch(func(c wsession.StatusChange) {
		ev := zl.Info().
			Str("event", "status.changed").
			Stringer("from", c.From).
			Stringer("to", c.To).
			Uint("attempts", c.Record.ReconnectAttempts).
			Int("queued", c.Record.QueuedMessages)
		if c.Record.Error != "" {
			ev = ev.Str("error", c.Record.Error)
		}
		ev.Msg("connection status changed")
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	zl.Info().Str("url", opts.URL).Msg("starting session")
	m.Connect(sessionCtx)

	lines := make(chan string)
	go readLines(sessionCtx, stdin, lines)

	for {
		select {
		case <-ctx.Done():
			zl.Info().Msg("interrupted, closing session")
			return 0
		case line, ok := <-lines:
			if !ok {
				zl.Info().Msg("input closed, closing session")
				return 0
			}
			if err := handleLine(m, line, out); err != nil {
				zl.Warn().Err(err).Str("line", line).Msg("cannot handle input")
			}
		}
	}
}

func readLines(ctx context.Context, r io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// handleLine sends "TYPE [payload]" as a frame or runs a ":command".
func handleLine(m *wsession.Manager, line string, out *lineWriter) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	switch line {
	case ":reconnect":
		m.Reconnect()
		return nil
	case ":status":
		bts, err := json.Marshal(statusView(m.Status()))
		if err != nil {
			return err
		}
		out.println(string(bts))
		return nil
	}

	eventType, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var payload any
	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return errors.Errorf("payload of %q is not valid JSON", eventType)
		}
		payload = json.RawMessage(rest)
	}

	return m.Send(eventType, payload)
}

type status struct {
	Status             string     `json:"status"`
	ReconnectAttempts  uint       `json:"reconnectAttempts"`
	LastConnectedAt    *time.Time `json:"lastConnectedAt,omitempty"`
	LastDisconnectedAt *time.Time `json:"lastDisconnectedAt,omitempty"`
	Error              string     `json:"error,omitempty"`
	ConnectionID       string     `json:"connectionId,omitempty"`
	QueuedMessages     int        `json:"queuedMessages"`
}

func statusView(r wsession.ConnectionRecord) status {
	return status{
		Status:             r.Status.String(),
		ReconnectAttempts:  r.ReconnectAttempts,
		LastConnectedAt:    r.LastConnectedAt,
		LastDisconnectedAt: r.LastDisconnectedAt,
		Error:              r.Error,
		ConnectionID:       r.ConnectionID,
		QueuedMessages:     r.QueuedMessages,
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, zl zerolog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error().Err(err).Msg("metrics server failed")
		}
	}()

	zl.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return srv, nil
}

// lineWriter serializes writes from subscribers and the input loop.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) println(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.w, s)
}
