package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters.
const (
	// Algorithm is the cipher recorded in every persisted secret.
	Algorithm = "aes-256-cbc"

	keySize        = 32
	saltSize       = 16
	pbkdf2Iters    = 100000
	saltFileName   = ".salt"
	saltFilePerm   = 0o600
	secretFilePerm = 0o600
	secretDirPerm  = 0o700
)

// deriveKey derives the AES-256 key from the passphrase and a per-store
// salt. The salt is created on first use and persisted next to the secrets.
func deriveKey(dir, passphrase string) ([]byte, error) {
	saltPath := filepath.Join(dir, saltFileName)

	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, saltFilePerm); err != nil {
			return nil, fmt.Errorf("failed to persist salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	if len(salt) != saltSize {
		return nil, fmt.Errorf("%w: salt file corrupted", ErrDecryptionFailure)
	}

	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, keySize, sha256.New), nil
}

// encrypt encrypts plaintext with AES-256-CBC using a fresh random IV.
// The IV is returned separately so identical plaintexts never produce
// identical ciphertexts.
func encrypt(key, plaintext []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	iv = make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, iv, nil
}

// decrypt reverses encrypt. Any structural problem with the ciphertext or
// padding reports ErrDecryptionFailure.
func decrypt(key, ciphertext, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: invalid iv length %d", ErrDecryptionFailure, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: invalid ciphertext length %d", ErrDecryptionFailure, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailure, err)
	}

	return unpadded, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padLen)
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}

	return data[:len(data)-padLen], nil
}
