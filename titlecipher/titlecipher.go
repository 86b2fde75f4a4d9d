// Package titlecipher implements chat-title encryption over a room's unified
// key: XChaCha20-Poly1305 with the chat id as associated data, so a title
// blob only opens in the room it was sealed for. It satisfies the engine's
// remote.TitleCrypto collaborator.
package titlecipher

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/aperturetechnology/MEGAchat/remote"
)

var (
	// ErrMalformed means the blob is too short to carry a nonce and tag.
	ErrMalformed = errors.New("title blob malformed")
	// ErrNoKey means no unified key is known for the chat.
	ErrNoKey = errors.New("no unified key for chat")
)

// KeySource resolves a chat's unified key. May block; the engine calls the
// cipher off its loop.
type KeySource interface {
	UnifiedKey(ctx context.Context, chatID remote.Handle) ([]byte, error)
}

// Cipher seals and opens chat titles.
type Cipher struct {
	keys KeySource
}

func New(keys KeySource) *Cipher {
	return &Cipher{keys: keys}
}

// EncryptTitle seals title for the chat. The output is nonce || ciphertext.
func (c *Cipher) EncryptTitle(ctx context.Context, chatID remote.Handle, title string) ([]byte, error) {
	aead, err := c.aeadFor(ctx, chatID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(title)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("title nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(title), aadFor(chatID)), nil
}

// DecryptTitle opens a sealed title blob for the chat.
func (c *Cipher) DecryptTitle(ctx context.Context, chatID remote.Handle, blob []byte) (string, error) {
	aead, err := c.aeadFor(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	title, err := aead.Open(nil, nonce, ciphertext, aadFor(chatID))
	if err != nil {
		return "", fmt.Errorf("open title for chat %d: %w", chatID, err)
	}
	return string(title), nil
}

func (c *Cipher) aeadFor(ctx context.Context, chatID remote.Handle) (cipher.AEAD, error) {
	key, err := c.keys.UnifiedKey(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	// unified keys are shorter than the cipher key; stretch deterministically
	stretched := sha256.Sum256(key)
	return chacha20poly1305.NewX(stretched[:])
}

func aadFor(chatID remote.Handle) []byte {
	var aad [8]byte
	binary.BigEndian.PutUint64(aad[:], uint64(chatID))
	return aad[:]
}
