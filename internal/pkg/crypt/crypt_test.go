package crypt

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newKeystore(t *testing.T) (*Keystore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewKeystore(rdb, time.Hour, zap.NewNop()), mr
}

func TestMintAndLookup(t *testing.T) {
	ks, _ := newKeystore(t)
	ctx := context.Background()

	key, err := ks.Mint(ctx, 7, "some.jwt.token")
	require.NoError(t, err)
	require.NotEmpty(t, key)

	got, err := ks.Lookup(ctx, "some.jwt.token")
	require.NoError(t, err)
	require.Equal(t, key, got)
}

func TestLookupMissReturnsEmpty(t *testing.T) {
	ks, _ := newKeystore(t)
	got, err := ks.Lookup(context.Background(), "never-minted")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestKeyExpiresWithSession(t *testing.T) {
	ks, mr := newKeystore(t)
	ctx := context.Background()

	_, err := ks.Mint(ctx, 7, "some.jwt.token")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	got, err := ks.Lookup(ctx, "some.jwt.token")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ks, _ := newKeystore(t)
	ctx := context.Background()
	c := New(ks, true, zap.NewNop())

	_, err := ks.Mint(ctx, 7, "tok")
	require.NoError(t, err)

	body := []byte(`{"data":{"type":"projects","attributes":{"name":"site"}}}`)
	sealed, err := c.EncryptBody(ctx, "tok", body)
	require.NoError(t, err)
	require.NotEqual(t, body, sealed)

	plain, err := c.DecryptBody(ctx, "tok", sealed)
	require.NoError(t, err)
	require.Equal(t, body, plain)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	ks, _ := newKeystore(t)
	ctx := context.Background()
	c := New(ks, true, zap.NewNop())

	_, err := ks.Mint(ctx, 7, "tok")
	require.NoError(t, err)

	sealed, err := c.EncryptBody(ctx, "tok", []byte(`{"data":null}`))
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(string(sealed))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 1
	tampered := []byte(base64.StdEncoding.EncodeToString(raw))

	_, err = c.DecryptBody(ctx, "tok", tampered)
	require.Error(t, err)
}

func TestDisabledCipherPassesThrough(t *testing.T) {
	ks, _ := newKeystore(t)
	ctx := context.Background()
	c := New(ks, false, zap.NewNop())
	require.False(t, c.Enabled())

	body := []byte(`{"data":null}`)
	out, err := c.EncryptBody(ctx, "tok", body)
	require.NoError(t, err)
	require.Equal(t, body, out)

	out, err = c.DecryptBody(ctx, "tok", body)
	require.NoError(t, err)
	require.Equal(t, body, out)
}

func TestKeylessSessionPassesThrough(t *testing.T) {
	ks, _ := newKeystore(t)
	ctx := context.Background()
	c := New(ks, true, zap.NewNop())

	body := []byte(`{"data":null}`)
	out, err := c.EncryptBody(ctx, "old-session", body)
	require.NoError(t, err)
	require.Equal(t, body, out)
}

func TestPlainBodyOnEncryptedSessionPassesThrough(t *testing.T) {
	ks, _ := newKeystore(t)
	ctx := context.Background()
	c := New(ks, true, zap.NewNop())

	_, err := ks.Mint(ctx, 7, "tok")
	require.NoError(t, err)

	// Clients that have not yet picked up their key still send plain JSON.
	body := []byte(`{"data":{"type":"projects"}}`)
	out, err := c.DecryptBody(ctx, "tok", body)
	require.NoError(t, err)
	require.Equal(t, body, out)
}
