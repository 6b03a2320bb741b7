package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// TokenCacheVersion is the current on-disk format version
	TokenCacheVersion = 1

	// DefaultSafetyMargin treats tokens this close to expiry as expired
	DefaultSafetyMargin = 60 * time.Second
)

// Token is a cached access credential
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

// RefreshFunc fetches a replacement for current, which may be the zero Token
type RefreshFunc func(ctx context.Context, current Token) (Token, error)

// TokenCache holds tokens per provider id. Refreshes are single-flight per id.
type TokenCache struct {
	mu       sync.RWMutex
	tokens   map[string]Token
	margin   time.Duration
	filePath string
	group    singleflight.Group
	now      func() time.Time
}

// tokenFile is the on-disk format
type tokenFile struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Tokens    map[string]Token `json:"tokens"`
}

// NewTokenCache creates an in-memory cache
func NewTokenCache(margin time.Duration) *TokenCache {
	if margin < 0 {
		margin = 0
	}
	return &TokenCache{
		tokens: make(map[string]Token),
		margin: margin,
		now:    time.Now,
	}
}

// NewFileTokenCache creates a cache persisted to filePath and loads it
func NewFileTokenCache(filePath string, margin time.Duration) (*TokenCache, error) {
	c := NewTokenCache(margin)
	c.filePath = filePath
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// expiring reports whether tok is absent, expired or inside the safety margin
func (c *TokenCache) expiring(tok Token) bool {
	if tok.AccessToken == "" {
		return true
	}
	if tok.ExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(c.margin).Before(tok.ExpiresAt)
}

// Get returns a usable token. Tokens inside the safety margin are not returned.
func (c *TokenCache) Get(providerID string) (Token, bool) {
	tok, ok := c.peek(providerID)
	if !ok || c.expiring(tok) {
		return Token{}, false
	}
	return tok, true
}

// Peek returns the stored token regardless of expiry
func (c *TokenCache) Peek(providerID string) (Token, bool) {
	return c.peek(providerID)
}

func (c *TokenCache) peek(providerID string) (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[providerID]
	return tok, ok
}

// NeedsRefresh reports whether providerID has no usable token
func (c *TokenCache) NeedsRefresh(providerID string) bool {
	_, ok := c.Get(providerID)
	return !ok
}

// Put stores a token and persists the cache when file-backed
func (c *TokenCache) Put(providerID string, tok Token) error {
	if tok.ObtainedAt.IsZero() {
		tok.ObtainedAt = c.now()
	}
	c.mu.Lock()
	c.tokens[providerID] = tok
	c.mu.Unlock()
	return c.Save()
}

// Expire marks the stored token as expired while keeping its refresh token
func (c *TokenCache) Expire(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.tokens[providerID]; ok {
		tok.ExpiresAt = time.Unix(0, 0)
		c.tokens[providerID] = tok
	}
}

// Delete removes a token
func (c *TokenCache) Delete(providerID string) error {
	c.mu.Lock()
	delete(c.tokens, providerID)
	c.mu.Unlock()
	return c.Save()
}

// Refresh runs fn at most once at a time per provider id. stale is the token the
// caller saw before deciding to refresh; if another caller has already replaced
// it with a usable token, that token is returned without calling fn.
func (c *TokenCache) Refresh(ctx context.Context, providerID string, stale Token, fn RefreshFunc) (Token, error) {
	ch := c.group.DoChan(providerID, func() (interface{}, error) {
		current, _ := c.peek(providerID)
		if current.AccessToken != stale.AccessToken && !c.expiring(current) {
			return current, nil
		}
		// The flight outlives any single waiter's cancellation
		tok, err := fn(context.WithoutCancel(ctx), current)
		if err != nil {
			return Token{}, err
		}
		if err := c.Put(providerID, tok); err != nil {
			return Token{}, err
		}
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

// Load reads the cache file. A missing, corrupt or old-version file yields an empty cache.
func (c *TokenCache) Load() error {
	if c.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read token cache: %w", err)
	}

	var file tokenFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil
	}
	if file.Version != TokenCacheVersion {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, tok := range file.Tokens {
		c.tokens[id] = tok
	}
	return nil
}

// Save writes the cache file atomically. In-memory caches are a no-op.
func (c *TokenCache) Save() error {
	if c.filePath == "" {
		return nil
	}

	c.mu.RLock()
	file := tokenFile{
		Version:   TokenCacheVersion,
		UpdatedAt: c.now(),
		Tokens:    make(map[string]Token, len(c.tokens)),
	}
	for id, tok := range c.tokens {
		file.Tokens[id] = tok
	}
	c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create token cache directory: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	// Write to temporary file first (atomic write)
	tmpFile := c.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := os.Rename(tmpFile, c.filePath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to save token cache: %w", err)
	}
	return nil
}
