package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/carebook/clinic-scheduler/internal/cache"
)

// ConversationInfo is the provider-side metadata a conversation ref maps to.
type ConversationInfo struct {
	ServiceID      string `json:"serviceId"`
	ParticipantRef string `json:"participantRef"`
}

// DirectoryLookup resolves a conversation ref to its provider metadata.
type DirectoryLookup interface {
	LookupConversation(ctx context.Context, conversationRef string) (ConversationInfo, error)
}

// LookupConversation fetches conversation metadata from the provider.
func (c *Client) LookupConversation(ctx context.Context, conversationRef string) (ConversationInfo, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s", c.baseURL, url.PathEscape(conversationRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ConversationInfo{}, fmt.Errorf("gateway: build lookup request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConversationInfo{}, fmt.Errorf("gateway: lookup conversation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return ConversationInfo{}, fmt.Errorf("gateway: lookup conversation: status %d", resp.StatusCode)
	}

	var info ConversationInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ConversationInfo{}, fmt.Errorf("gateway: decode conversation: %w", err)
	}
	return info, nil
}

// CachedDirectory puts a TTL cache in front of conversation lookups. The
// cache is injected, never a package singleton, so tests and multi-tenant
// deployments control its scope.
type CachedDirectory struct {
	inner DirectoryLookup
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedDirectory(inner DirectoryLookup, c cache.Cache, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedDirectory{inner: inner, cache: c, ttl: ttl}
}

func (d *CachedDirectory) LookupConversation(ctx context.Context, conversationRef string) (ConversationInfo, error) {
	key := "conversation:" + conversationRef
	if d.cache != nil {
		if raw, ok, err := d.cache.Get(ctx, key); err == nil && ok {
			var info ConversationInfo
			if err := json.Unmarshal([]byte(raw), &info); err == nil {
				return info, nil
			}
			// A corrupt entry falls through to a fresh lookup.
		}
	}

	info, err := d.inner.LookupConversation(ctx, conversationRef)
	if err != nil {
		return ConversationInfo{}, err
	}

	if d.cache != nil {
		if raw, err := json.Marshal(info); err == nil {
			_ = d.cache.Set(ctx, key, string(raw), d.ttl)
		}
	}
	return info, nil
}
