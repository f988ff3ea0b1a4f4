package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	encodingAESKeyLength = 43
	blockPadding         = 32
	randomPrefixLength   = 16
)

// MessageCrypter implements the open platform message encryption scheme:
// AES-256-CBC over random(16) | big-endian length(4) | message | app id,
// PKCS#7 padded to 32 bytes, with the IV taken from the first 16 key bytes.
type MessageCrypter struct {
	token string
	appID string
	key   []byte
	iv    []byte
	rand  io.Reader
}

type CrypterOption func(*MessageCrypter)

// WithRandom replaces the source of the 16 random prefix bytes.
func WithRandom(reader io.Reader) CrypterOption {
	return func(c *MessageCrypter) {
		if reader != nil {
			c.rand = reader
		}
	}
}

func NewMessageCrypter(token, encodingAESKey, appID string, opts ...CrypterOption) (*MessageCrypter, error) {
	encodingAESKey = strings.TrimSpace(encodingAESKey)
	if len(encodingAESKey) != encodingAESKeyLength {
		return nil, fmt.Errorf("security: encoding aes key must be %d characters", encodingAESKeyLength)
	}
	if strings.TrimSpace(appID) == "" {
		return nil, fmt.Errorf("security: app id is required")
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("security: decode encoding aes key: %w", err)
	}
	crypter := &MessageCrypter{
		token: token,
		appID: appID,
		key:   key,
		iv:    key[:aes.BlockSize],
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(crypter)
		}
	}
	return crypter, nil
}

func (c *MessageCrypter) AppID() string {
	return c.appID
}

func (c *MessageCrypter) Token() string {
	return c.token
}

// Signature is the hex SHA-1 of token, timestamp, nonce and payload sorted
// lexically and concatenated.
func (c *MessageCrypter) Signature(timestamp, nonce, encrypted string) string {
	return Sign(c.token, timestamp, nonce, encrypted)
}

func Sign(parts ...string) string {
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	sum := sha1.Sum([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(sum[:])
}

func (c *MessageCrypter) Encrypt(message []byte) (string, error) {
	if c == nil {
		return "", fmt.Errorf("security: message crypter is nil")
	}
	prefix := make([]byte, randomPrefixLength)
	if _, err := io.ReadFull(c.rand, prefix); err != nil {
		return "", fmt.Errorf("security: random prefix: %w", err)
	}
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(message)))

	var plain bytes.Buffer
	plain.Write(prefix)
	plain.Write(length)
	plain.Write(message)
	plain.WriteString(c.appID)
	padded := pkcs7Pad(plain.Bytes(), blockPadding)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("security: create cipher: %w", err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt returns the message and rejects payloads addressed to another app.
func (c *MessageCrypter) Decrypt(encrypted string) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: message crypter is nil")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encrypted))
	if err != nil {
		return nil, fmt.Errorf("security: decode payload: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("security: payload is not a whole number of blocks")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, raw)
	plain, err = pkcs7Unpad(plain, blockPadding)
	if err != nil {
		return nil, err
	}
	if len(plain) < randomPrefixLength+4 {
		return nil, fmt.Errorf("security: payload too short")
	}
	content := plain[randomPrefixLength:]
	length := int(binary.BigEndian.Uint32(content[:4]))
	if length > len(content)-4 {
		return nil, fmt.Errorf("security: message length %d exceeds payload", length)
	}
	message := content[4 : 4+length]
	appID := string(content[4+length:])
	if appID != c.appID {
		return nil, fmt.Errorf("security: app id mismatch: got %q want %q", appID, c.appID)
	}
	return message, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("security: empty payload")
	}
	padding := int(data[len(data)-1])
	if padding < 1 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("security: invalid padding")
	}
	return data[:len(data)-padding], nil
}
