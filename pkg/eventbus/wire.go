package eventbus

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"fmt"
	"io"
)

// encodeFrame applies the optional wire transforms to a serialized
// envelope: gzip first, then AES-GCM with a random nonce prefixed to the
// ciphertext. Both ends must share the same configuration.
func (b *Bus) encodeFrame(data []byte) ([]byte, error) {
	if b.cfg.Compression {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("compress frame: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress frame: %w", err)
		}
		data = buf.Bytes()
	}
	if b.aead != nil {
		nonce := make([]byte, b.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("encrypt frame: %w", err)
		}
		data = b.aead.Seal(nonce, nonce, data, nil)
	}
	return data, nil
}

// decodeFrame reverses encodeFrame. A frame that fails decryption or
// decompression is malformed and is dropped by the dispatch loop.
func (b *Bus) decodeFrame(data []byte) ([]byte, error) {
	if b.aead != nil {
		ns := b.aead.NonceSize()
		if len(data) < ns {
			return nil, fmt.Errorf("decrypt frame: short frame")
		}
		plain, err := b.aead.Open(nil, data[:ns], data[ns:], nil)
		if err != nil {
			return nil, fmt.Errorf("decrypt frame: %w", err)
		}
		data = plain
	}
	if b.cfg.Compression {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		plain, err := io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		data = plain
	}
	return data, nil
}
