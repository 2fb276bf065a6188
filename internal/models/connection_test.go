package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	// The happy path walks the full lifecycle in order.
	path := []ConnectionStatus{
		ConnectionDisconnected,
		ConnectionConnecting,
		ConnectionScanning,
		ConnectionNeedsReview,
		ConnectionSyncing,
		ConnectionReconciling,
		ConnectionNeedsReview,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	assert.False(t, CanTransition(ConnectionDisconnected, ConnectionScanning))
	assert.False(t, CanTransition(ConnectionConnecting, ConnectionSyncing))
	assert.False(t, CanTransition(ConnectionScanning, ConnectionSyncing))
	assert.False(t, CanTransition(ConnectionSyncing, ConnectionNeedsReview))
	assert.False(t, CanTransition(ConnectionError, ConnectionSyncing))
}

func TestAnyStateMayError(t *testing.T) {
	for from := range connectionTransitions {
		assert.True(t, CanTransition(from, ConnectionError), "%s -> ERROR", from)
	}
}

func TestErrorReentry(t *testing.T) {
	// Queue retries resume the pipeline from ERROR.
	assert.True(t, CanTransition(ConnectionError, ConnectionScanning))
	assert.True(t, CanTransition(ConnectionError, ConnectionReconciling))
	assert.True(t, CanTransition(ConnectionError, ConnectionDisconnected))
}

func TestSameStatusIsAlwaysLegal(t *testing.T) {
	assert.True(t, CanTransition(ConnectionSyncing, ConnectionSyncing))
	assert.True(t, CanTransition(ConnectionError, ConnectionError))
}

func TestIsBusy(t *testing.T) {
	assert.True(t, ConnectionScanning.IsBusy())
	assert.True(t, ConnectionReconciling.IsBusy())

	// CONNECTING is the entry state for a scan, not an in-flight job.
	assert.False(t, ConnectionConnecting.IsBusy())
	assert.False(t, ConnectionSyncing.IsBusy())
	assert.False(t, ConnectionNeedsReview.IsBusy())
	assert.False(t, ConnectionError.IsBusy())
	assert.False(t, ConnectionDisconnected.IsBusy())
}

func TestPlatformDataAccessors(t *testing.T) {
	conn := &PlatformConnection{PlatformData: JSONB{
		DataKeyShop:       "acme.myshopify.com",
		DataKeyMerchantID: "M123",
	}}
	assert.Equal(t, "acme.myshopify.com", conn.ShopDomain())
	assert.Equal(t, "M123", conn.MerchantID())

	empty := &PlatformConnection{PlatformData: JSONB{}}
	assert.Empty(t, empty.ShopDomain())
	assert.Empty(t, empty.MerchantID())
}
