package sealer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSealer(t *testing.T, passphrase string, salt []byte) *Sealer {
	t.Helper()
	s, err := New(passphrase, salt)
	require.NoError(t, err)
	return s
}

func TestSealOpen_RoundTrip(t *testing.T) {
	s := testSealer(t, "correct horse", []byte("salt-0123456789a"))

	secret := bytes.Repeat([]byte{0xAB}, 64)
	sealed, err := s.Seal(secret)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), string(secret))

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)
}

func TestSeal_NonceIsRandom(t *testing.T) {
	s := testSealer(t, "pw", []byte("salt"))

	a, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_WrongPassphrase(t *testing.T) {
	salt := []byte("salt")
	sealed, err := testSealer(t, "right", salt).Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = testSealer(t, "wrong", salt).Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestOpen_WrongSalt(t *testing.T) {
	sealed, err := testSealer(t, "pw", []byte("salt-a")).Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = testSealer(t, "pw", []byte("salt-b")).Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestOpen_Tampered(t *testing.T) {
	s := testSealer(t, "pw", []byte("salt"))
	sealed, err := s.Seal([]byte("secret"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = s.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestOpen_Short(t *testing.T) {
	s := testSealer(t, "pw", []byte("salt"))
	_, err := s.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrOpen)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", []byte("salt"))
	assert.ErrorIs(t, err, ErrEmptyPassphrase)

	_, err = New("pw", nil)
	assert.Error(t, err)

	_, err = NewFromKey([]byte("short"))
	assert.Error(t, err)
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt()
	require.NoError(t, err)
	b, err := NewSalt()
	require.NoError(t, err)

	assert.Len(t, a, SaltSize)
	assert.NotEqual(t, a, b)
}
