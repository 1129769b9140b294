package merchant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/printdesk/internal/common"
)

const listKey = "all"

// Source fetches the merchant directory from its owner.
type Source interface {
	ListMerchants(ctx context.Context, token string) ([]Merchant, error)
}

// Directory serves merchant listings from cache, collapsing concurrent misses
// into one upstream call.
type Directory struct {
	source Source
	cache  *Cache
	group  singleflight.Group
}

// NewDirectory constructs a Directory. cache may be nil.
func NewDirectory(source Source, cache *Cache) *Directory {
	return &Directory{source: source, cache: cache}
}

// List returns the merchant directory. Cache failures degrade to a direct fetch.
// Concurrent misses are collapsed per bearer token only, so one session's
// rejected credential never fails another session's listing. The shared fetch
// is detached from the first caller's cancellation; each caller still returns
// as soon as its own ctx is done.
func (d *Directory) List(ctx context.Context, token string) ([]Merchant, error) {
	logger := zerolog.Ctx(ctx)
	if cached, ok, err := d.cache.Get(ctx, listKey); err != nil {
		logger.Warn().Err(err).Msg("merchant_cache_get_failed")
	} else if ok {
		return cached, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(flightKey(token), func() (any, error) {
		list, err := d.source.ListMerchants(fetchCtx, token)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []Merchant{}
		}
		if err := d.cache.Set(fetchCtx, listKey, list); err != nil {
			logger.Warn().Err(err).Msg("merchant_cache_set_failed")
		}
		return list, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Merchant), nil
	}
}

func flightKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return listKey + ":" + hex.EncodeToString(sum[:8])
}

// Refresh drops the cached listing so the next List goes upstream.
func (d *Directory) Refresh(ctx context.Context) error {
	return d.cache.Invalidate(ctx, listKey)
}

// RefreshHandler handles POST /ops/merchants/refresh: the next listing goes
// upstream, picking up merchants added or closed since the cache was filled.
func (d *Directory) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if err := d.Refresh(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("merchant_cache_refresh_failed")
		common.WriteError(w, common.NewAppError(common.CodeInternal, "merchant cache unavailable", http.StatusInternalServerError, err))
		return
	}
	zerolog.Ctx(r.Context()).Info().Msg("merchant_cache_refreshed")
	w.WriteHeader(http.StatusNoContent)
}
