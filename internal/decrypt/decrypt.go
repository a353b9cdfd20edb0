package decrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// IVSize is the CBC initialisation vector length in bytes.
	IVSize = aes.BlockSize

	// MaxPayload bounds the ciphertext accepted for one frame.
	MaxPayload = 4096
)

var (
	ErrKeyLength        = errors.New("key must be 32 bytes")
	ErrIVLength         = errors.New("iv must be 16 bytes")
	ErrBlockAlignment   = errors.New("ciphertext is not a multiple of the block size")
	ErrPayloadTooLarge  = errors.New("ciphertext exceeds payload buffer")
	ErrInvalidPlaintext = errors.New("plaintext is not printable text")
)

// CryptoError reports a failure to open a payload. It is kept apart from
// frame parse errors so callers can tell bad key material from a badly
// shaped frame.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("decrypt %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// Cipher holds the key material captured from one subscribe acknowledgement.
// It is immutable; a re-subscription produces a new Cipher.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// New validates the key and iv and prepares the block cipher.
func New(key, iv string) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, &CryptoError{Op: "init", Err: fmt.Errorf("%w: got %d", ErrKeyLength, len(key))}
	}
	if len(iv) != IVSize {
		return nil, &CryptoError{Op: "init", Err: fmt.Errorf("%w: got %d", ErrIVLength, len(iv))}
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, &CryptoError{Op: "init", Err: err}
	}
	return &Cipher{block: block, iv: []byte(iv)}, nil
}

// Decrypt opens ciphertext and strips the trailing zero padding.
//
// CBC with zero padding cannot authenticate; a wrong key still yields
// bytes. The result is therefore rejected unless it is valid UTF-8 free of
// control characters, which is always true of genuine payloads.
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	switch {
	case len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0:
		return "", &CryptoError{Op: "decrypt", Err: fmt.Errorf("%w: %d bytes", ErrBlockAlignment, len(ciphertext))}
	case len(ciphertext) > MaxPayload:
		return "", &CryptoError{Op: "decrypt", Err: fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(ciphertext))}
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(plain, ciphertext)
	plain = bytes.TrimRight(plain, "\x00")

	if err := checkText(plain); err != nil {
		return "", &CryptoError{Op: "decrypt", Err: err}
	}
	return string(plain), nil
}

// Encrypt is the inverse of Decrypt. The broker never expects clients to
// encrypt; it exists for replay tooling and tests.
func (c *Cipher) Encrypt(plaintext string) []byte {
	n := len(plaintext)
	if rem := n % aes.BlockSize; rem != 0 || n == 0 {
		n += aes.BlockSize - rem
	}
	buf := make([]byte, n)
	copy(buf, plaintext)
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(buf, buf)
	return buf
}

func checkText(b []byte) error {
	if !utf8.Valid(b) {
		return fmt.Errorf("%w: invalid utf-8", ErrInvalidPlaintext)
	}
	for i, r := range string(b) {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character %U at byte %d", ErrInvalidPlaintext, r, i)
		}
	}
	return nil
}
