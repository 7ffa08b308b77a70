// SPDX-License-Identifier: MPL-2.0

package interconnect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configFixture = `{
  "interconnect": {
    "name": "site1",
    "password": "secret",
    "socket": {
      "client": true,
      "signaling": {"host": "peer.example.org", "port": 12345, "type": "TLS"},
      "media": {"host": "10.0.0.1", "port": 40000, "type": "UDP"},
      "mixer": {"host": "127.0.0.1", "port": 12346, "type": "TLS"},
      "internal": {"host": "127.0.0.1"}
    },
    "tls": {
      "client": {"domain": "peer.example.org"},
      "dtls": {
        "certificate": "/etc/interconnect/cert.pem",
        "key": "/etc/interconnect/key.pem",
        "srtp": {"profile": "SRTP_AES128_CM_SHA1_80:SRTP_AES128_CM_SHA1_32"},
        "keys": {"quantity": 10, "length": 20, "lifetime": 300000000}
      }
    },
    "limits": {"reconnect_interval_secs": 0.5, "keepalive_sec": 120},
    "loops": {
      "alpha": {"host": "239.255.0.1", "port": 5004, "type": "UDP"},
      "beta": {"host": "239.255.0.2", "port": 5006, "type": "UDP"}
    }
  }
}`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interconnect.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	conf, err := LoadConfig(writeConfigFile(t, configFixture))
	require.NoError(t, err)

	assert.Equal(t, "site1", conf.Name)
	assert.Equal(t, "secret", conf.Password)
	assert.True(t, conf.Socket.Client)
	assert.Equal(t, "peer.example.org:12345", conf.Socket.Signaling.Addr())
	assert.Equal(t, "10.0.0.1:40000", conf.Socket.Media.Addr())
	assert.Equal(t, "/etc/interconnect/cert.pem", conf.TLS.DTLS.Certificate)
	assert.Equal(t, int64(300000000), conf.TLS.DTLS.Keys.LifetimeUsec)
	assert.Equal(t, 500*time.Millisecond, conf.ReconnectInterval())
	assert.Equal(t, 120*time.Second, conf.KeepaliveInterval())
	require.Len(t, conf.Loops, 2)
	assert.Equal(t, "239.255.0.1:5004", conf.Loops["alpha"].Addr())

	require.NoError(t, conf.Validate())
}

func TestLoadConfigUnwrapped(t *testing.T) {
	conf, err := LoadConfig(writeConfigFile(t, `{"name": "flat", "password": "p"}`))
	require.NoError(t, err)
	assert.Equal(t, "flat", conf.Name)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		var c Config
		c.Name = "site1"
		c.Password = "secret"
		c.Socket.Signaling.Host = "127.0.0.1"
		c.Socket.Media.Host = "127.0.0.1"
		c.Socket.Mixer.Host = "127.0.0.1"
		return c
	}

	c := base()
	require.NoError(t, c.Validate())
	// Loop sockets default to loopback.
	assert.Equal(t, "localhost", c.Socket.Internal.Host)

	c = base()
	c.Name = ""
	assert.Error(t, c.Validate())

	c = base()
	c.Password = ""
	assert.Error(t, c.Validate())

	c = base()
	c.Socket.Media.Host = ""
	assert.Error(t, c.Validate())

	c = base()
	c.Socket.Mixer.Host = ""
	assert.Error(t, c.Validate())
}

func TestConfigDefaultTimers(t *testing.T) {
	var c Config
	assert.Equal(t, 100*time.Millisecond, c.ReconnectInterval())
	assert.Equal(t, 300*time.Second, c.KeepaliveInterval())
}
