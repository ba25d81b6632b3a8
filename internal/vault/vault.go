package vault

import (
	"encoding/hex"
	"errors"

	"marketplace-wallet/pkg/crypto"
	"marketplace-wallet/pkg/logger"

	"golang.org/x/crypto/pbkdf2"

	"crypto/sha256"
)

var (
	ErrNoMasterSecret   = errors.New("vault master secret is not configured")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	// 固定盐，密钥本身来自操作员口令，盐只用于域分离
	derivationSalt = "marketplace-wallet:deposit-pool:v1"
	iterations     = 120000
	keyLength      = 32
)

// Vault 钱包私钥加密库。派生密钥在初始化后只读。
type Vault struct {
	key       []byte
	ephemeral bool
}

// New 创建密钥库。secret为空时必须显式开启ephemeral模式，
// 此时使用进程内随机密钥，重启后已加密的私钥不可恢复。
func New(secret string, ephemeral bool) (*Vault, error) {
	generated := false
	if secret == "" {
		if !ephemeral {
			return nil, ErrNoMasterSecret
		}
		random, err := crypto.RandomBytes(32)
		if err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(random)
		generated = true
		logger.Warn("Vault running with an ephemeral master secret; encrypted keys will be unrecoverable after restart")
	}

	key := pbkdf2.Key([]byte(secret), []byte(derivationSalt), iterations, keyLength, sha256.New)
	return &Vault{key: key, ephemeral: generated}, nil
}

// Ephemeral 是否使用进程内随机密钥
func (v *Vault) Ephemeral() bool {
	return v.ephemeral
}

// Encrypt 加密私钥
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	encrypted, err := crypto.EncryptToBase64(plaintext, v.key)
	if err != nil {
		return "", ErrEncryptionFailed
	}
	return encrypted, nil
}

// Decrypt 解密私钥，密文被篡改时返回ErrDecryptionFailed
func (v *Vault) Decrypt(ciphertext string) ([]byte, error) {
	plaintext, err := crypto.DecryptFromBase64(ciphertext, v.key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
