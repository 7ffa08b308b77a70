// SPDX-License-Identifier: MPL-2.0

package media

import (
	"crypto/md5"
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"
)

// CookieMaxLength is the DTLS cookie maximum (RFC 6347).
const CookieMaxLength = 255

// cookieJar holds the HelloVerifyRequest cookie keyset. A cookie is the
// MD5 of one keyset member; verification matches against every member
// still in the current set. The whole set is dropped and regenerated on
// each rotation, so cookies issued before a rotation stop verifying.
type cookieJar struct {
	quantity int
	length   int

	mu   sync.Mutex
	keys [][]byte

	rotateTimer *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

func newCookieJar(quantity, length int) (*cookieJar, error) {
	if quantity <= 0 || length <= 0 {
		return nil, fmt.Errorf("cookie keyset: quantity and length must be positive")
	}
	if length > CookieMaxLength {
		length = CookieMaxLength
	}
	j := &cookieJar{
		quantity: quantity,
		length:   length,
		done:     make(chan struct{}),
	}
	if err := j.rotate(); err != nil {
		return nil, err
	}
	return j, nil
}

// rotate discards the keyset and draws a fresh one.
func (j *cookieJar) rotate() error {
	keys := make([][]byte, j.quantity)
	for i := range keys {
		k := make([]byte, j.length)
		if _, err := rand.Read(k); err != nil {
			return fmt.Errorf("cookie keyset: %w", err)
		}
		keys[i] = k
	}
	j.mu.Lock()
	j.keys = keys
	j.mu.Unlock()
	return nil
}

// startRotation arms the periodic keyset renewal.
func (j *cookieJar) startRotation(lifetime time.Duration) {
	j.rotateTimer = time.NewTicker(lifetime)
	go func() {
		for {
			select {
			case <-j.done:
				return
			case <-j.rotateTimer.C:
				// A failed renewal keeps the old set; the next tick retries.
				_ = j.rotate()
			}
		}
	}()
}

func (j *cookieJar) close() {
	j.closeOnce.Do(func() {
		close(j.done)
		if j.rotateTimer != nil {
			j.rotateTimer.Stop()
		}
		j.mu.Lock()
		j.keys = nil
		j.mu.Unlock()
	})
}

// Generate issues a cookie from a randomly picked keyset member.
func (j *cookieJar) Generate() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.keys) == 0 {
		return nil, fmt.Errorf("cookie keyset: empty")
	}
	key := j.keys[mrand.Intn(len(j.keys))]
	sum := md5.Sum(key)
	return sum[:], nil
}

// Verify reports whether cookie is the MD5 of any current keyset
// member.
func (j *cookieJar) Verify(cookie []byte) bool {
	if len(cookie) != md5.Size {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, key := range j.keys {
		sum := md5.Sum(key)
		if string(sum[:]) == string(cookie) {
			return true
		}
	}
	return false
}
