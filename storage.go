package loreline

import "context"

// StorageBackend is the durable local key-value store behind the mutation
// queue, the dead-letter list, and snapshot backups. Implementations
// provide single-key atomicity only; no multi-key transactions are
// assumed, and the queue serializes its own read-modify-write cycles.
type StorageBackend interface {
	// Read returns the blob stored under key, or os.ErrNotExist.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores a blob under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes the blob under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, used for queue
	// recovery on startup.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// Ensure interfaces are implemented.
var (
	_ StorageBackend = (*MemoryBackend)(nil)
	_ StorageBackend = (*FileBackend)(nil)
	_ StorageBackend = (*SQLiteBackend)(nil)
	_ StorageBackend = (*S3Backend)(nil)
)
