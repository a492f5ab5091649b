// Package metadata resolves catalog titles and cover images for request links.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"requestdesk/internal/middleware"
	"requestdesk/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Album is the catalog record for one soundtrack release.
type Album struct {
	Name  string `json:"name"`
	Cover string `json:"album_cover"`
}

// Resolver looks up albums in the external catalog service. Lookups are
// best-effort: every failure yields "no result" and callers degrade to the
// user-supplied title with no cover.
type Resolver struct {
	baseURL string
	apiKey  string
	domain  string
	httpc   *http.Client
	redis   *redis.Client
	ttl     time.Duration
}

// NewResolver returns a Resolver for the given catalog endpoint. redisClient
// may be nil, which disables caching.
func NewResolver(baseURL, apiKey, domain string, redisClient *redis.Client, ttl time.Duration) *Resolver {
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		domain:  domain,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		redis:   redisClient,
		ttl:     ttl,
	}
}

// CatalogLink reports whether the link belongs to the catalog-integrated domain.
func (r *Resolver) CatalogLink(link string) bool {
	return r.domain != "" && strings.Contains(link, r.domain)
}

// Resolve looks up the album behind a catalog link. The second return value
// is false when no data is available for any reason.
func (r *Resolver) Resolve(ctx context.Context, link string) (*Album, bool) {
	if !r.CatalogLink(link) {
		return nil, false
	}

	id := albumID(link)
	if id == "" {
		observability.MetadataLookups.WithLabelValues("invalid").Inc()
		return nil, false
	}

	if album := r.cached(ctx, id); album != nil {
		observability.MetadataLookups.WithLabelValues("cache_hit").Inc()
		return album, true
	}

	album, err := r.fetch(ctx, id)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "catalog lookup failed",
			slog.String("album_id", id), slog.String("error", err.Error()))
		observability.MetadataLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	r.store(ctx, id, album)
	observability.MetadataLookups.WithLabelValues("hit").Inc()
	return album, true
}

// Cover returns the album's cover image URL if the catalog knows one and it
// is syntactically valid, otherwise the empty string.
func (r *Resolver) Cover(ctx context.Context, link string) string {
	album, ok := r.Resolve(ctx, link)
	if !ok || album.Cover == "" {
		return ""
	}
	if !validImageURL(album.Cover) {
		return ""
	}
	return album.Cover
}

func (r *Resolver) fetch(ctx context.Context, id string) (*Album, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/albums/%s", r.baseURL, id), nil)
	if err != nil {
		return nil, err
	}
	if r.apiKey != "" {
		req.Header.Set("x-api-key", r.apiKey)
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var album Album
	if err := json.NewDecoder(resp.Body).Decode(&album); err != nil {
		return nil, err
	}
	if album.Name == "" {
		return nil, fmt.Errorf("catalog returned no album name")
	}
	return &album, nil
}

func (r *Resolver) cacheKey(id string) string {
	return "catalog:album:" + id
}

func (r *Resolver) cached(ctx context.Context, id string) *Album {
	if r.redis == nil {
		return nil
	}
	raw, err := r.redis.Get(ctx, r.cacheKey(id)).Bytes()
	if err != nil {
		return nil
	}
	var album Album
	if err := json.Unmarshal(raw, &album); err != nil {
		return nil
	}
	return &album
}

func (r *Resolver) store(ctx context.Context, id string, album *Album) {
	if r.redis == nil {
		return
	}
	raw, err := json.Marshal(album)
	if err != nil {
		return
	}
	r.redis.Set(ctx, r.cacheKey(id), raw, r.ttl)
}

// albumID extracts the catalog id from the link's trailing path segment.
func albumID(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func validImageURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
