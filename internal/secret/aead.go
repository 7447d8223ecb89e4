// Package secret 提供数据源密文字段的默认解密实现（XChaCha20-Poly1305）。
// 密文格式为 base64(nonce || ciphertext)。
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"DataNexus/internal/core/port"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKey        = errors.New("密钥长度必须为 32 字节")
	ErrMalformedCipher   = errors.New("密文格式错误")
	ErrAuthenticationTag = errors.New("密文校验失败，密钥不匹配或数据被篡改")
)

// Box 用同一把密钥加解密。
type Box struct {
	aead cipher.AEAD
}

var _ port.Decryptor = (*Box)(nil)

// NewBox 接受 base64、hex 或原始 32 字节的密钥。
func NewBox(key string) (*Box, error) {
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(raw)
	if err != nil {
		return nil, fmt.Errorf("初始化 AEAD 失败: %w", err)
	}
	return &Box{aead: aead}, nil
}

func parseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	if b, err := hex.DecodeString(key); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	if len(key) == chacha20poly1305.KeySize {
		return []byte(key), nil
	}
	return nil, ErrInvalidKey
}

// Encrypt 加密明文，每次使用随机 nonce。
func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("生成 nonce 失败: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密密文。空字符串原样返回空。
func (b *Box) Decrypt(ciphertext string) (string, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCipher, err)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+b.aead.Overhead() {
		return "", ErrMalformedCipher
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrAuthenticationTag
	}
	return string(plain), nil
}

// Plaintext 是不做任何处理的解密器，仅用于本地开发。
type Plaintext struct{}

// Decrypt 原样返回输入。
func (Plaintext) Decrypt(s string) (string, error) { return s, nil }
