package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/guseggert/omrbridge/readiness"
)

type Transport string

const (
	// TransportPipe exchanges frames over the backend's stdin and stdout.
	TransportPipe Transport = "pipe"
	// TransportSocket exchanges frames over a TCP connection to Addr. The backend's stdout is only logged.
	TransportSocket Transport = "socket"
)

type ReadinessMode string

const (
	// ReadinessHandshake waits for the backend to print READY on stdout. Pipe transport only.
	ReadinessHandshake ReadinessMode = "handshake"
	// ReadinessSocketPoll waits until Addr accepts connections.
	ReadinessSocketPoll ReadinessMode = "socket-poll"
	// ReadinessDelay waits a fixed HandshakeDelay and assumes the backend is up.
	ReadinessDelay ReadinessMode = "fixed-delay"
)

const (
	DefaultHandshakeDelay = 2 * time.Second
	DefaultShutdownGrace  = 5 * time.Second
)

type Config struct {
	Command string
	Args    []string
	Dir     string
	// Env is added to the bridge's own environment.
	Env []string

	Transport Transport
	Readiness ReadinessMode
	// Addr is the backend's TCP endpoint, required for socket transport and socket-poll readiness.
	Addr string

	ReadyTimeout   time.Duration
	RetryInterval  time.Duration
	DialTimeout    time.Duration
	HandshakeDelay time.Duration
	ShutdownGrace  time.Duration

	// MaxLine bounds a single inbound frame. Zero means channel.DefaultMaxLine.
	MaxLine int
}

func (c Config) withDefaults() Config {
	if c.Transport == "" {
		c.Transport = TransportPipe
	}
	if c.Readiness == "" {
		if c.Transport == TransportSocket {
			c.Readiness = ReadinessSocketPoll
		} else {
			c.Readiness = ReadinessHandshake
		}
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = readiness.DefaultTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = readiness.DefaultInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = readiness.DefaultDialTimeout
	}
	if c.HandshakeDelay <= 0 {
		c.HandshakeDelay = DefaultHandshakeDelay
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	c = c.withDefaults()
	var errs []error
	if c.Command == "" {
		errs = append(errs, errors.New("no backend command configured"))
	}
	switch c.Transport {
	case TransportPipe, TransportSocket:
	default:
		errs = append(errs, fmt.Errorf("unsupported transport %q", c.Transport))
	}
	switch c.Readiness {
	case ReadinessHandshake:
		if c.Transport == TransportSocket {
			errs = append(errs, errors.New("handshake readiness needs the pipe transport"))
		}
	case ReadinessSocketPoll, ReadinessDelay:
	default:
		errs = append(errs, fmt.Errorf("unsupported readiness mode %q", c.Readiness))
	}
	if c.Addr == "" && (c.Transport == TransportSocket || c.Readiness == ReadinessSocketPoll) {
		errs = append(errs, fmt.Errorf("transport %s with readiness %s needs a backend address", c.Transport, c.Readiness))
	}
	return errors.Join(errs...)
}
