package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	googleKeyCapacity       = 16
	minimumKeyRefetchPeriod = 30 * time.Second
)

var (
	errKeyNotFound   = errors.New("signing key not found in JWKS")
	errNoUsableKeys  = errors.New("jwks document contained no usable keys")
	errKeyFetchLimit = errors.New("jwks refetch throttled")
)

var googleKeyFetches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "members_auth_google_jwks_fetch_total",
		Help: "Google signing key downloads by outcome.",
	},
	[]string{"outcome"},
)

// googleKeySet holds Google's RSA signing keys by key id. Entries expire after
// the configured TTL; an unknown key id triggers at most one download per
// minimumKeyRefetchPeriod.
type googleKeySet struct {
	url    string
	client *http.Client
	clock  func() time.Time
	logger *zap.Logger
	keys   *expirable.LRU[string, *rsa.PublicKey]

	fetchMu   sync.Mutex
	lastFetch time.Time
}

func newGoogleKeySet(url string, client *http.Client, ttl time.Duration, clock func() time.Time, logger *zap.Logger) *googleKeySet {
	return &googleKeySet{
		url:    url,
		client: client,
		clock:  clock,
		logger: logger,
		keys:   expirable.NewLRU[string, *rsa.PublicKey](googleKeyCapacity, nil, ttl),
	}
}

func (s *googleKeySet) key(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	if key, ok := s.keys.Get(keyID); ok {
		return key, nil
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	// Another caller may have downloaded the set while we waited.
	if key, ok := s.keys.Get(keyID); ok {
		return key, nil
	}
	now := s.clock()
	if !s.lastFetch.IsZero() && now.Sub(s.lastFetch) < minimumKeyRefetchPeriod && s.keys.Len() > 0 {
		return nil, fmt.Errorf("%w: %w", errKeyNotFound, errKeyFetchLimit)
	}
	if err := s.download(ctx); err != nil {
		googleKeyFetches.WithLabelValues(metricOutcomeFailure).Inc()
		return nil, err
	}
	googleKeyFetches.WithLabelValues(metricOutcomeSuccess).Inc()
	s.lastFetch = now

	if key, ok := s.keys.Get(keyID); ok {
		return key, nil
	}
	return nil, errKeyNotFound
}

func (s *googleKeySet) download(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("jwks request: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		s.logger.Warn("jwks request failed", zap.String("url", s.url), zap.Int("status", response.StatusCode))
		return fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}

	usable := 0
	for _, candidate := range document.Keys {
		if candidate.KeyType != "RSA" || (candidate.Use != "" && candidate.Use != "sig") {
			continue
		}
		publicKey, err := candidate.publicKey()
		if err != nil {
			s.logger.Debug("skipping jwk", zap.String("kid", candidate.KeyID), zap.Error(err))
			continue
		}
		s.keys.Add(candidate.KeyID, publicKey)
		usable++
	}
	if usable == 0 {
		return errNoUsableKeys
	}
	s.logger.Debug("google signing keys refreshed", zap.Int("keys", usable))
	return nil
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	if k.KeyID == "" {
		return nil, errors.New("key id missing")
	}
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil || len(modulus) == 0 {
		return nil, fmt.Errorf("invalid modulus: %v", err)
	}
	exponent, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil || len(exponent) == 0 {
		return nil, fmt.Errorf("invalid exponent: %v", err)
	}
	e := new(big.Int).SetBytes(exponent)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(e.Int64())}, nil
}
