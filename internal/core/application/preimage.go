package application

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tapgate/tapgate/internal/core/ports"
)

const (
	preimageKeyPrefix  = "preimage:"
	scriptKeyKeyPrefix = "scriptkey:"
	settledKeyPrefix   = "settled:"

	// Preimages and settlement markers outlive any plausible retry window.
	settlementCacheTTL = 24 * time.Hour
)

// PreimageStore keeps the ephemeral secrets and correlations a settlement
// needs: paymentHash -> preimage, scriptKey -> paymentHash, and the
// idempotency marker for completed settlements. Backing is an injected
// expiring cache, entries are append/overwrite only.
type PreimageStore struct {
	cache ports.Cache
}

func NewPreimageStore(cache ports.Cache) *PreimageStore {
	return &PreimageStore{cache: cache}
}

func (s *PreimageStore) Get(paymentHash string) (string, bool) {
	return s.cache.Get(preimageKeyPrefix + paymentHash)
}

func (s *PreimageStore) Put(paymentHash, preimageHex string) {
	s.cache.Set(preimageKeyPrefix+paymentHash, preimageHex, settlementCacheTTL)
}

// GetOrGenerate resolves the stored preimage for a payment hash, generating
// and storing a fresh 32-byte secret when none exists. Generated preimages
// only ever finalize internal settlements, the node remains the authority for
// network-routed payments.
func (s *PreimageStore) GetOrGenerate(paymentHash string) (string, error) {
	if preimage, ok := s.Get(paymentHash); ok {
		return preimage, nil
	}

	log.Debugf("no preimage found for %s, generating one", shortHash(paymentHash))
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate preimage: %s", err)
	}
	preimageHex := hex.EncodeToString(buf)
	s.Put(paymentHash, preimageHex)
	return preimageHex, nil
}

// MapScriptKey correlates a transport-level script key back to the logical
// invoice. Mappings never expire within a process lifetime.
func (s *PreimageStore) MapScriptKey(scriptKey, paymentHash string) {
	s.cache.Set(scriptKeyKeyPrefix+scriptKey, paymentHash, ports.NoExpiration)
}

// PaymentHashForScriptKey is the read side of the correlation: asset-transfer
// processors that only see a script key resolve it to the invoice they are
// settling against. No such processor ships here, the lookup is the surface
// they plug into.
func (s *PreimageStore) PaymentHashForScriptKey(scriptKey string) (string, bool) {
	return s.cache.Get(scriptKeyKeyPrefix + scriptKey)
}

// MarkSettled records that a payment hash has been finalized; its presence
// makes further settlement attempts a no-op.
func (s *PreimageStore) MarkSettled(paymentHash string) {
	s.cache.Set(settledKeyPrefix+paymentHash, "1", settlementCacheTTL)
}

func (s *PreimageStore) IsSettled(paymentHash string) bool {
	_, ok := s.cache.Get(settledKeyPrefix + paymentHash)
	return ok
}

func shortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8] + "..."
}
