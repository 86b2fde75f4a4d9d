package titlecipher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperturetechnology/MEGAchat/remote"
)

type mapKeys map[remote.Handle][]byte

func (m mapKeys) UnifiedKey(_ context.Context, chatID remote.Handle) ([]byte, error) {
	key, ok := m[chatID]
	if !ok {
		return nil, errors.New("unknown chat")
	}
	return key, nil
}

func TestRoundTrip(t *testing.T) {
	c := New(mapKeys{60: []byte("0123456789abcdef")})
	ctx := context.Background()

	blob, err := c.EncryptTitle(ctx, 60, "Project X")
	require.NoError(t, err)

	title, err := c.DecryptTitle(ctx, 60, blob)
	require.NoError(t, err)
	assert.Equal(t, "Project X", title)
}

func TestDecrypt_WrongRoomFails(t *testing.T) {
	key := []byte("0123456789abcdef")
	c := New(mapKeys{60: key, 61: key})
	ctx := context.Background()

	blob, err := c.EncryptTitle(ctx, 60, "Project X")
	require.NoError(t, err)

	// same key, different chat id: the associated data must reject it
	_, err = c.DecryptTitle(ctx, 61, blob)
	require.Error(t, err)
}

func TestDecrypt_TamperedBlobFails(t *testing.T) {
	c := New(mapKeys{60: []byte("0123456789abcdef")})
	ctx := context.Background()

	blob, err := c.EncryptTitle(ctx, 60, "Project X")
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0x01

	_, err = c.DecryptTitle(ctx, 60, blob)
	require.Error(t, err)
}

func TestDecrypt_ShortBlobMalformed(t *testing.T) {
	c := New(mapKeys{60: []byte("0123456789abcdef")})

	_, err := c.DecryptTitle(context.Background(), 60, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncrypt_NoKey(t *testing.T) {
	c := New(mapKeys{60: nil})

	_, err := c.EncryptTitle(context.Background(), 60, "x")
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = c.EncryptTitle(context.Background(), 99, "x")
	require.Error(t, err)
}
