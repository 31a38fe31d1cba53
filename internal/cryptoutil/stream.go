package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/minio/sio"
)

const (
	configMagic = "SKP1"
	configVer   = uint16(1)
)

// EncryptWriter seals everything written to it with DARE (sio). Close flushes the last package.
func EncryptWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	return sio.EncryptWriter(w, sio.Config{Key: key})
}

// DecryptReader opens a DARE stream produced by EncryptWriter.
func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.DecryptReader(r, sio.Config{Key: key})
}

// EncryptConfig encrypts a config payload with a small header.
func EncryptConfig(plain []byte, key []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(configMagic)
	if err := binary.Write(buf, binary.BigEndian, configVer); err != nil {
		return nil, err
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	buf.Write(nonce)
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	buf.Write(aead.Seal(nil, nonce, plain, []byte(configMagic)))
	return buf.Bytes(), nil
}

// DecryptConfig decrypts a payload produced by EncryptConfig.
func DecryptConfig(ciphertext []byte, key []byte) ([]byte, error) {
	if len(ciphertext) < 4+2+12 {
		return nil, fmt.Errorf("config cipher too short")
	}
	if string(ciphertext[:4]) != configMagic {
		return nil, fmt.Errorf("invalid config header")
	}
	if ver := binary.BigEndian.Uint16(ciphertext[4:6]); ver != configVer {
		return nil, fmt.Errorf("unsupported config version %d", ver)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, ciphertext[6:18], ciphertext[18:], []byte(configMagic))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
