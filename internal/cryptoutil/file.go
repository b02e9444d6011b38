package cryptoutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/sio"
)

// Encrypted artifacts carry a small cleartext header followed by a DARE
// (sio) stream: magic(4) | version(2) | argon2 salt(16). The salt lives in
// the header so decryption needs only the passphrase.
const (
	EncSuffix = ".enc"

	fileMagic  = "TVE1"
	fileVer    = uint16(1)
	headerSize = 4 + 2 + SaltSize
)

// IsEncrypted reports whether a path carries the encrypted-artifact suffix.
func IsEncrypted(path string) bool {
	return strings.HasSuffix(path, EncSuffix)
}

// EncryptFile encrypts path to path+".enc" with a key derived from the
// passphrase, then deletes the plaintext. On any failure the partial output
// is removed and the plaintext kept, so the only safe copy is never lost.
func EncryptFile(path, passphrase string) (string, error) {
	salt, err := NewSalt()
	if err != nil {
		return "", err
	}
	key := DeriveKey(passphrase, salt)

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	encPath := path + EncSuffix
	dst, err := os.OpenFile(encPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}

	if err := encryptTo(dst, src, key, salt); err != nil {
		dst.Close()
		os.Remove(encPath)
		return "", err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(encPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(encPath)
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return encPath, fmt.Errorf("encrypted artifact written but plaintext removal failed: %w", err)
	}
	return encPath, nil
}

func encryptTo(dst io.Writer, src io.Reader, key, salt []byte) error {
	if _, err := dst.Write([]byte(fileMagic)); err != nil {
		return err
	}
	if err := binary.Write(dst, binary.BigEndian, fileVer); err != nil {
		return err
	}
	if _, err := dst.Write(salt); err != nil {
		return err
	}
	if _, err := sio.Encrypt(dst, src, sio.Config{Key: key}); err != nil {
		return fmt.Errorf("encrypt stream: %w", err)
	}
	return nil
}

// DecryptFile decrypts encPath to destPath using the passphrase.
func DecryptFile(encPath, passphrase, destPath string) error {
	src, err := os.Open(encPath)
	if err != nil {
		return err
	}
	defer src.Close()

	salt, err := readHeader(src)
	if err != nil {
		return err
	}
	key := DeriveKey(passphrase, salt)

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := sio.Decrypt(dst, src, sio.Config{Key: key}); err != nil {
		dst.Close()
		os.Remove(destPath)
		return fmt.Errorf("decrypt stream: %w", err)
	}
	return dst.Close()
}

// VerifyHeader confirms the file begins with a well-formed encryption
// header without touching the payload.
func VerifyHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = readHeader(f)
	return err
}

// VerifyStream authenticates the full DARE stream by decrypting it to
// io.Discard. Any tampering or a wrong passphrase fails the MAC check.
func VerifyStream(path, passphrase string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	salt, err := readHeader(f)
	if err != nil {
		return err
	}
	key := DeriveKey(passphrase, salt)
	if _, err := sio.Decrypt(io.Discard, f, sio.Config{Key: key}); err != nil {
		return fmt.Errorf("verify stream: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read encryption header: %w", err)
	}
	if string(header[:4]) != fileMagic {
		return nil, fmt.Errorf("not a tvault encrypted artifact")
	}
	ver := binary.BigEndian.Uint16(header[4:6])
	if ver != fileVer {
		return nil, fmt.Errorf("unsupported encryption version %d", ver)
	}
	return header[6:], nil
}
