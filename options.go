package wsession

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultReconnectInterval    = time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHandshakeTimeout     = 10 * time.Second
)

// Options configures a Manager. Use DefaultOptions as a starting point: a zero Options disables
// the message queue and heartbeat.
type Options struct {
	URL    string      `yaml:"url"`
	Header http.Header `yaml:"headers"`

	// ReconnectInterval is the backoff base delay.
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	MaxReconnectDelay time.Duration `yaml:"maxReconnectDelay"`
	// MaxReconnectAttempts bounds consecutive failed reconnects before entering the error state.
	MaxReconnectAttempts uint `yaml:"maxReconnectAttempts"`

	EnableMessageQueue bool `yaml:"enableMessageQueue"`
	MaxQueueSize       int  `yaml:"maxQueueSize"`

	// HeartbeatInterval of zero disables liveness probes.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
}

func DefaultOptions(rawURL string) Options {
	return Options{
		URL:                  rawURL,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectDelay:    DefaultMaxReconnectDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		EnableMessageQueue:   true,
		MaxQueueSize:         DefaultMaxQueueSize,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		HandshakeTimeout:     DefaultHandshakeTimeout,
		WriteTimeout:         DefaultWriteTimeout,
	}
}

// Validate checks the options a Manager cannot work without.
func (o Options) Validate() error {
	if o.URL == "" {
		return errors.Wrap(ErrInvalidOptions, "url is required")
	}

	u, err := url.Parse(o.URL)
	if err != nil {
		return errors.Wrapf(ErrInvalidOptions, "cannot parse url %q: %s", o.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Wrapf(ErrInvalidOptions, "url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.Wrapf(ErrInvalidOptions, "url %q has no host", o.URL)
	}

	switch {
	case o.ReconnectInterval < 0:
		return errors.Wrap(ErrInvalidOptions, "reconnectInterval cannot be negative")
	case o.MaxReconnectDelay < 0:
		return errors.Wrap(ErrInvalidOptions, "maxReconnectDelay cannot be negative")
	case o.HeartbeatInterval < 0:
		return errors.Wrap(ErrInvalidOptions, "heartbeatInterval cannot be negative")
	case o.MaxQueueSize < 0:
		return errors.Wrap(ErrInvalidOptions, "maxQueueSize cannot be negative")
	}

	return nil
}

// LoadOptions decodes YAML options on top of DefaultOptions, so omitted keys keep their
// defaults. Durations are Go duration strings such as "1s" or "500ms".
func LoadOptions(r io.Reader) (Options, error) {
	opts := DefaultOptions("")

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, errors.Wrap(err, "cannot decode options")
	}

	return opts, opts.Validate()
}

func (o Options) backoff() BackoffPolicy {
	return NewBackoffPolicy(o.ReconnectInterval, o.MaxReconnectDelay)
}
