// SPDX-License-Identifier: MPL-2.0

package media

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

var (
	DTLSDebug bool
)

// DefaultSRTPProfiles is the profile list offered in the use_srtp
// extension when the configuration leaves it empty.
const DefaultSRTPProfiles = "SRTP_AES128_CM_SHA1_80:SRTP_AES128_CM_SHA1_32"

const (
	defaultCookieQuantity = 10
	defaultCookieLength   = 20
	defaultCookieLifetime = 300 * time.Second

	defaultReconnectInterval = 50 * time.Millisecond
)

// DTLSConfig is the JSON configuration block of the DTLS context.
type DTLSConfig struct {
	Certificate string `json:"certificate"`
	Key         string `json:"key"`

	CA struct {
		File string `json:"file"`
		Path string `json:"path"`
	} `json:"ca"`

	SRTP struct {
		Profile string `json:"profile"`
	} `json:"srtp"`

	Keys struct {
		Quantity     int   `json:"quantity"`
		Length       int   `json:"length"`
		LifetimeUsec int64 `json:"lifetime"`
	} `json:"keys"`
}

// DTLSContext owns the server-style DTLS setup shared by all sessions
// of one node: certificate, fingerprint, SRTP profile list and the
// HelloVerifyRequest cookie keyset with its rotation timer.
type DTLSContext struct {
	config      DTLSConfig
	cert        tls.Certificate
	fingerprint string
	profiles    []dtls.SRTPProtectionProfile
	cookies     *cookieJar
	log         zerolog.Logger
}

// NewDTLSContext loads the certificate chain and private key from the
// configured paths. A certificate that cannot be loaded is fatal.
func NewDTLSContext(conf DTLSConfig, log zerolog.Logger) (*DTLSContext, error) {
	if conf.Certificate == "" || conf.Key == "" {
		return nil, fmt.Errorf("dtls: certificate and key paths must be set")
	}
	if conf.SRTP.Profile == "" {
		conf.SRTP.Profile = DefaultSRTPProfiles
	}
	if conf.Keys.Quantity == 0 {
		conf.Keys.Quantity = defaultCookieQuantity
	}
	if conf.Keys.Length == 0 {
		conf.Keys.Length = defaultCookieLength
	}
	if conf.Keys.LifetimeUsec == 0 {
		conf.Keys.LifetimeUsec = defaultCookieLifetime.Microseconds()
	}

	cert, err := tls.LoadX509KeyPair(conf.Certificate, conf.Key)
	if err != nil {
		return nil, fmt.Errorf("dtls: loading certificate: %w", err)
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("dtls: no certificate data in %s", conf.Certificate)
	}

	fingerprint, err := CertificateFingerprint(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("dtls: fingerprint: %w", err)
	}

	profiles, err := parseSRTPProfiles(conf.SRTP.Profile)
	if err != nil {
		return nil, err
	}

	cookies, err := newCookieJar(conf.Keys.Quantity, conf.Keys.Length)
	if err != nil {
		return nil, err
	}
	cookies.startRotation(time.Duration(conf.Keys.LifetimeUsec) * time.Microsecond)

	return &DTLSContext{
		config:      conf,
		cert:        cert,
		fingerprint: fingerprint,
		profiles:    profiles,
		cookies:     cookies,
		log:         log,
	}, nil
}

// Close disarms the cookie rotation timer and drops the keyset.
func (d *DTLSContext) Close() {
	d.cookies.close()
}

// Fingerprint returns the RFC 8122 rendering of the certificate hash,
// e.g. "sha-256 AA:BB:...".
func (d *DTLSContext) Fingerprint() string {
	return d.fingerprint
}

// Certificate returns the loaded certificate. The signaling and mixer
// listeners reuse it when no dedicated listener certificate is set.
func (d *DTLSContext) Certificate() tls.Certificate {
	return d.cert
}

// GenerateCookie issues a HelloVerifyRequest cookie from the current
// keyset.
func (d *DTLSContext) GenerateCookie() ([]byte, error) {
	return d.cookies.Generate()
}

// VerifyCookie reports whether the cookie was issued from a key still
// in the current keyset. After a rotation, previously issued cookies
// stop verifying and the client retries with a fresh HelloVerifyRequest.
func (d *DTLSContext) VerifyCookie(cookie []byte) bool {
	return d.cookies.Verify(cookie)
}

// RotateCookies renews the keyset immediately, independent of the
// rotation timer.
func (d *DTLSContext) RotateCookies() error {
	return d.cookies.rotate()
}

// clientConfig builds the handshake configuration of the active side.
// The peer identity is pinned by the fingerprint learned over the
// signaling channel, so PKI verification is skipped.
func (d *DTLSContext) clientConfig(expectedFingerprint string, flightInterval time.Duration) *dtls.Config {
	if flightInterval == 0 {
		flightInterval = defaultReconnectInterval
	}
	conf := &dtls.Config{
		Certificates:           []tls.Certificate{d.cert},
		SRTPProtectionProfiles: d.profiles,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		InsecureSkipVerify:     true,
		FlightInterval:         flightInterval,
		VerifyConnection: func(state *dtls.State) error {
			return verifyPeerFingerprint(state, expectedFingerprint)
		},
	}
	d.applyDebug(conf)
	return conf
}

// serverConfig builds the handshake configuration of the passive side.
// A client certificate is required; its fingerprint is not checked on
// this side, as the connect_media request carries none.
func (d *DTLSContext) serverConfig() *dtls.Config {
	conf := &dtls.Config{
		Certificates:           []tls.Certificate{d.cert},
		SRTPProtectionProfiles: d.profiles,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		ClientAuth:             dtls.RequireAnyClientCert,
		InsecureSkipVerify:     true,
	}
	d.applyDebug(conf)
	return conf
}

func (d *DTLSContext) applyDebug(conf *dtls.Config) {
	if DTLSDebug {
		loggerFactory := logging.NewDefaultLoggerFactory()
		loggerFactory.DefaultLogLevel = logging.LogLevelTrace
		conf.LoggerFactory = loggerFactory
	}
}

func verifyPeerFingerprint(state *dtls.State, expected string) error {
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("no certificate found in dtls")
	}

	remoteFP, err := CertificateFingerprint(state.PeerCertificates[0])
	if err != nil {
		return err
	}
	if !strings.EqualFold(remoteFP, expected) {
		return fmt.Errorf("peer fingerprint mismatch: got %s want %s", remoteFP, expected)
	}
	return nil
}

func parseSRTPProfiles(list string) ([]dtls.SRTPProtectionProfile, error) {
	var out []dtls.SRTPProtectionProfile
	for _, name := range strings.Split(list, ":") {
		switch strings.TrimSpace(name) {
		case "":
		case "SRTP_AES128_CM_SHA1_80", "SRTP_AES128_CM_HMAC_SHA1_80":
			out = append(out, dtls.SRTP_AES128_CM_HMAC_SHA1_80)
		case "SRTP_AES128_CM_SHA1_32", "SRTP_AES128_CM_HMAC_SHA1_32":
			out = append(out, dtls.SRTP_AES128_CM_HMAC_SHA1_32)
		case "SRTP_AEAD_AES_128_GCM":
			out = append(out, dtls.SRTP_AEAD_AES_128_GCM)
		default:
			return nil, fmt.Errorf("dtls: unknown srtp profile %q", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dtls: empty srtp profile list")
	}
	return out, nil
}

// CertificateFingerprint renders the SHA-256 over a DER certificate per
// RFC 8122: hash name, one space, upper-case colon-separated hex.
func CertificateFingerprint(der []byte) (string, error) {
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %v", err)
	}

	hash := sha256.Sum256(leaf.Raw)

	hexStr := strings.ToUpper(hex.EncodeToString(hash[:]))
	var fingerprint strings.Builder
	fingerprint.WriteString("sha-256 ")
	for i := 0; i < len(hexStr); i += 2 {
		if i > 0 {
			fingerprint.WriteString(":")
		}
		fingerprint.WriteString(hexStr[i : i+2])
	}

	return fingerprint.String(), nil
}
