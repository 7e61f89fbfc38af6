package crypt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	xerrors "jsonapi-service/internal/pkg/errors"
)

// Keystore holds the per-session crypto keys. A key is minted when a token
// is rotated and expires together with the session; lookups that miss mean
// the session predates encryption and the body passes through untouched.
type Keystore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewKeystore(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Keystore {
	return &Keystore{rdb: rdb, ttl: ttl, logger: logger}
}

// Mint creates and stores a fresh key for the given session token.
func (k *Keystore) Mint(ctx context.Context, userID int64, tok string) (string, error) {
	key := uuid.NewString()
	if err := k.rdb.Set(ctx, redisKey(tok), key, k.ttl).Err(); err != nil {
		k.logger.Error("storing session key failed", zap.Int64("user", userID), zap.Error(err))
		return "", err
	}
	return key, nil
}

// Lookup returns the key for a session token, empty when none exists.
func (k *Keystore) Lookup(ctx context.Context, tok string) (string, error) {
	key, err := k.rdb.Get(ctx, redisKey(tok)).Result()
	if xerrors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

// redisKey hashes the token so the redis keyspace stays bounded and the
// signed token itself is never used as a key name.
func redisKey(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return "session:key:" + hex.EncodeToString(sum[:])
}
