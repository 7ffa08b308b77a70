// SPDX-License-Identifier: MPL-2.0

package interconnect

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/vocnet/interconnect/media"
)

// DefaultCodec is the only codec negotiated between interconnect
// peers.
const DefaultCodec = "opus/48000/2"

const (
	defaultReconnectInterval = 100 * time.Millisecond
	defaultKeepaliveInterval = 300 * time.Second

	defaultHost = "localhost"
	defaultPort = 12345
)

// SocketConfig describes one transport endpoint in the configuration.
type SocketConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Type string `json:"type,omitempty"`
}

// Addr renders the endpoint as host:port.
func (s SocketConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Config is the interconnect configuration block.
type Config struct {
	// Name is the local identity on the signaling wire.
	Name string `json:"name"`
	// Password is the shared secret checked on register.
	Password string `json:"password"`

	Socket struct {
		// Client selects the active side: connect out instead of
		// listening.
		Client    bool         `json:"client"`
		Signaling SocketConfig `json:"signaling"`
		Media     SocketConfig `json:"media"`
		Mixer     SocketConfig `json:"mixer"`
		// Internal is the loopback host the loop receive sockets bind
		// to.
		Internal SocketConfig `json:"internal"`
	} `json:"socket"`

	TLS struct {
		// Domains points at the listener certificate store: a
		// directory holding cert.pem and key.pem. When empty the
		// listeners reuse the DTLS certificate.
		Domains string `json:"domains"`

		Client struct {
			// Domain is the hostname used for server verification.
			Domain string `json:"domain"`
			CA     struct {
				File string `json:"file"`
				Path string `json:"path"`
			} `json:"ca"`
		} `json:"client"`

		DTLS media.DTLSConfig `json:"dtls"`
	} `json:"tls"`

	Limits struct {
		ReconnectIntervalSecs float64 `json:"reconnect_interval_secs"`
		KeepaliveSec          float64 `json:"keepalive_sec"`
	} `json:"limits"`

	// Loops maps loop names to their multicast endpoints.
	Loops map[string]SocketConfig `json:"loops"`

	// Mixer is pushed opaquely to registering mixers in the configure
	// message.
	Mixer map[string]any `json:"mixer,omitempty"`
}

// LoadConfig reads a JSON configuration file. The interconnect block
// may sit under a top-level "interconnect" key or form the whole
// document.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var wrapped struct {
		Interconnect *Config `json:"interconnect"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if wrapped.Interconnect != nil {
		return *wrapped.Interconnect, nil
	}

	var conf Config
	if err := json.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return conf, nil
}

// Validate checks that name, password and the signaling, media and mixer
// hosts are set, and fills the client signaling port and the internal
// host when left at zero. Other ports may stay 0 to bind ephemerally;
// timer defaults come from ReconnectInterval and KeepaliveInterval.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name must be set")
	}
	if c.Password == "" {
		return fmt.Errorf("config: password must be set")
	}
	if c.Socket.Signaling.Host == "" {
		return fmt.Errorf("config: signaling host must be set")
	}
	if c.Socket.Media.Host == "" {
		return fmt.Errorf("config: media host must be set")
	}
	if c.Socket.Mixer.Host == "" {
		return fmt.Errorf("config: mixer host must be set")
	}

	if c.Socket.Client && c.Socket.Signaling.Port == 0 {
		c.Socket.Signaling.Port = defaultPort
	}
	if c.Socket.Internal.Host == "" {
		c.Socket.Internal.Host = defaultHost
	}
	return nil
}

// ReconnectInterval is the signaling client reconnect pace, also used
// for DTLS handshake retransmission.
func (c *Config) ReconnectInterval() time.Duration {
	if c.Limits.ReconnectIntervalSecs == 0 {
		return defaultReconnectInterval
	}
	return time.Duration(c.Limits.ReconnectIntervalSecs * float64(time.Second))
}

// KeepaliveInterval is the per-session STUN keepalive pace.
func (c *Config) KeepaliveInterval() time.Duration {
	if c.Limits.KeepaliveSec == 0 {
		return defaultKeepaliveInterval
	}
	return time.Duration(c.Limits.KeepaliveSec * float64(time.Second))
}
