package loreline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// Persisted record envelope: a fixed magic, a format version, and a flag
// byte describing the transforms applied to the body. Older records stay
// readable as long as the version is recognized.
var recordMagic = []byte{'L', 'Q', 'R'}

const (
	recordVersion = 1

	recordFlagCompressed = 1 << 0
	recordFlagEncrypted  = 1 << 1

	recordHeaderSize = 5
)

// recordCodec serializes queue operations and snapshots for durable
// storage: JSON, snappy block compression, optional AES-GCM encryption.
type recordCodec struct {
	compress  bool
	encryptor *Encryptor
}

func newRecordCodec(compress bool, encryptor *Encryptor) *recordCodec {
	return &recordCodec{compress: compress, encryptor: encryptor}
}

// encode serializes v into a self-describing durable record.
func (c *recordCodec) encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	var flags byte
	if c.compress {
		body = snappy.Encode(nil, body)
		flags |= recordFlagCompressed
	}
	if c.encryptor != nil {
		body, err = c.encryptor.Encrypt(body)
		if err != nil {
			return nil, fmt.Errorf("encrypt record: %w", err)
		}
		flags |= recordFlagEncrypted
	}

	out := make([]byte, 0, recordHeaderSize+len(body))
	out = append(out, recordMagic...)
	out = append(out, recordVersion, flags)
	return append(out, body...), nil
}

// decode parses a durable record into v.
func (c *recordCodec) decode(data []byte, v any) error {
	if len(data) < recordHeaderSize || !bytes.Equal(data[:3], recordMagic) {
		return newStorageError(StorageErrorTypeCorruption, "record header invalid", "", nil)
	}
	if data[3] != recordVersion {
		return newStorageError(StorageErrorTypeCorruption,
			fmt.Sprintf("unsupported record version %d", data[3]), "", nil)
	}
	flags := data[4]
	body := data[recordHeaderSize:]

	var err error
	if flags&recordFlagEncrypted != 0 {
		if c.encryptor == nil {
			return newStorageError(StorageErrorTypeCorruption, "record encrypted but no key configured", "", nil)
		}
		body, err = c.encryptor.Decrypt(body)
		if err != nil {
			return newStorageError(StorageErrorTypeCorruption, "decrypt record", "", err)
		}
	}
	if flags&recordFlagCompressed != 0 {
		body, err = snappy.Decode(nil, body)
		if err != nil {
			return newStorageError(StorageErrorTypeCorruption, "decompress record", "", err)
		}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return newStorageError(StorageErrorTypeCorruption, "decode record body", "", err)
	}
	return nil
}
