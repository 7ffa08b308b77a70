// SPDX-License-Identifier: MPL-2.0

package media

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieGenerateVerify(t *testing.T) {
	jar, err := newCookieJar(10, 20)
	require.NoError(t, err)
	defer jar.close()

	for i := 0; i < 50; i++ {
		cookie, err := jar.Generate()
		require.NoError(t, err)
		require.Len(t, cookie, md5.Size)
		// A cookie verified by the keyset was the MD5 of a key in the
		// set at issue time.
		assert.True(t, jar.Verify(cookie))
	}

	assert.False(t, jar.Verify([]byte("not a cookie")))
	assert.False(t, jar.Verify(make([]byte, md5.Size)))
}

func TestCookieRotationInvalidates(t *testing.T) {
	jar, err := newCookieJar(5, 20)
	require.NoError(t, err)
	defer jar.close()

	cookie, err := jar.Generate()
	require.NoError(t, err)
	require.True(t, jar.Verify(cookie))

	require.NoError(t, jar.rotate())

	// The rotated-out key no longer backs the cookie; the client gets a
	// fresh HelloVerifyRequest and retries.
	assert.False(t, jar.Verify(cookie))

	fresh, err := jar.Generate()
	require.NoError(t, err)
	assert.True(t, jar.Verify(fresh))
}

func TestCookieLengthCapped(t *testing.T) {
	jar, err := newCookieJar(2, 4096)
	require.NoError(t, err)
	defer jar.close()
	assert.Equal(t, CookieMaxLength, jar.length)
}

func TestCookieJarRejectsZero(t *testing.T) {
	_, err := newCookieJar(0, 20)
	assert.Error(t, err)
	_, err = newCookieJar(10, 0)
	assert.Error(t, err)
}
