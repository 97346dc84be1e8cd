package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NATS implements Store on a JetStream key-value bucket. Scope and key are joined
// into one bucket key; characters JetStream rejects are replaced.
type NATS struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
}

// NewNATS wraps an existing bucket.
func NewNATS(bucket jetstream.KeyValue) *NATS {
	return &NATS{bucket: bucket, timeout: 5 * time.Second}
}

// OpenNATS creates or binds the named bucket.
func OpenNATS(ctx context.Context, js jetstream.JetStream, bucket string) (*NATS, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "timecontrol node state",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}
	return NewNATS(kv), nil
}

var natsKeyReplacer = strings.NewReplacer(":", "_", " ", "_", "*", "_", ">", "_", "/", ".")

func natsKey(scope, key string) string {
	return natsKeyReplacer.Replace(scope) + "." + natsKeyReplacer.Replace(key)
}

func (s *NATS) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

func (s *NATS) Get(ctx context.Context, scope, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, natsKey(scope, key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get %s/%s: %w", scope, key, err)
	}
	return entry.Value(), nil
}

func (s *NATS) Set(ctx context.Context, scope, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.bucket.Put(ctx, natsKey(scope, key), value); err != nil {
		return fmt.Errorf("kv put %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *NATS) Delete(ctx context.Context, scope, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.bucket.Delete(ctx, natsKey(scope, key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s/%s: %w", scope, key, err)
	}
	return nil
}
