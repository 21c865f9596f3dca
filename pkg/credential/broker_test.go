package credential

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

type fakeStore struct {
	material []byte
	err      error
	calls    int32
}

func (f *fakeStore) FetchSecret(_ context.Context, _ models.CredentialReference) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	// Return a copy so tests can assert the original fixture is untouched.
	out := make([]byte, len(f.material))
	copy(out, f.material)
	return out, nil
}

func ref(id string) models.CredentialReference {
	return models.CredentialReference{ID: id, Kind: "ssh_key"}
}

func TestFetchReturnsUsableHandle(t *testing.T) {
	store := &fakeStore{material: []byte("s3cr3t")}
	b := NewBroker(store)

	h, err := b.Fetch(context.Background(), ref("r1"), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 1, b.OutstandingCount())

	var seen string
	err = h.Use(func(material []byte) error {
		seen = string(material)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", seen)
}

func TestFetchRejectsTTLAboveCeiling(t *testing.T) {
	store := &fakeStore{material: []byte("s3cr3t")}
	b := NewBroker(store)

	_, err := b.Fetch(context.Background(), ref("r1"), 10*time.Minute)
	assert.ErrorIs(t, err, ErrTTLTooLong)
}

func TestFetchDefaultsZeroTTLToCeiling(t *testing.T) {
	store := &fakeStore{material: []byte("s3cr3t")}
	b := NewBroker(store)

	h, err := b.Fetch(context.Background(), ref("r1"), 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(MaxTTL), h.expiresAt, time.Second)
}

func TestReleaseWipesMaterial(t *testing.T) {
	store := &fakeStore{material: []byte("s3cr3t")}
	b := NewBroker(store)

	h, err := b.Fetch(context.Background(), ref("r1"), time.Minute)
	require.NoError(t, err)

	b.Release(h)
	assert.Equal(t, 0, b.OutstandingCount())

	err = h.Use(func(material []byte) error { return nil })
	assert.ErrorIs(t, err, ErrWiped)
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := &fakeStore{material: []byte("s3cr3t")}
	b := NewBroker(store)

	h, err := b.Fetch(context.Background(), ref("r1"), time.Minute)
	require.NoError(t, err)

	b.Release(h)
	assert.NotPanics(t, func() { b.Release(h) })
}

func TestUseRejectsExpiredHandle(t *testing.T) {
	store := &fakeStore{material: []byte("s3cr3t")}
	b := NewBroker(store)

	h, err := b.Fetch(context.Background(), ref("r1"), time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	err = h.Use(func(material []byte) error { return nil })
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRotateInvalidatesOutstandingHandles(t *testing.T) {
	store := &fakeStore{material: []byte("s3cr3t")}
	b := NewBroker(store)

	h, err := b.Fetch(context.Background(), ref("r1"), time.Minute)
	require.NoError(t, err)

	b.Rotate("r1")

	err = h.Use(func(material []byte) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidated)
}

func TestRotateDoesNotAffectOtherReferences(t *testing.T) {
	store := &fakeStore{material: []byte("s3cr3t")}
	b := NewBroker(store)

	hA, err := b.Fetch(context.Background(), ref("rA"), time.Minute)
	require.NoError(t, err)
	hB, err := b.Fetch(context.Background(), ref("rB"), time.Minute)
	require.NoError(t, err)

	b.Rotate("rA")

	assert.ErrorIs(t, hA.Use(func([]byte) error { return nil }), ErrInvalidated)
	assert.NoError(t, hB.Use(func([]byte) error { return nil }))
}

func TestFetchPropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: ErrNotFound}
	b := NewBroker(store)

	_, err := b.Fetch(context.Background(), ref("missing"), time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}
