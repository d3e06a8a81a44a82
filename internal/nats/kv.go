package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// PresenceBucket is the KV bucket holding per-user presence.
	PresenceBucket = "PRESENCE"

	// BroadcastSubjectPrefix prefixes every broadcast group subject.
	BroadcastSubjectPrefix = "dm.broadcast"
)

// BroadcastSubject returns the subject a broadcast group is carried on.
func BroadcastSubject(group string) string {
	return fmt.Sprintf("%s.%s", BroadcastSubjectPrefix, group)
}

// BroadcastWildcard matches every broadcast group subject.
func BroadcastWildcard() string {
	return BroadcastSubjectPrefix + ".>"
}

// EnsureKeyValue returns the named bucket, creating it when missing.
func (c *Client) EnsureKeyValue(ctx context.Context, bucket, description string) (jetstream.KeyValue, error) {
	kv, err := c.js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to look up bucket %s: %w", bucket, err)
	}

	kv, err = c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: description,
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return kv, nil
}
