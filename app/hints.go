package app

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/query"
)

// RouteHints keeps a per-pubkey ranking of scored relay routes, kept
// current by the ingester's route hook. Reads never hit the store.
type RouteHints struct {
	byPubkey *xsync.MapOf[string, []*model.Route]
}

func NewRouteHints() *RouteHints {
	return &RouteHints{byPubkey: xsync.NewMapOf[[]*model.Route]()}
}

// Observe records a scored route. Hooked into Ingester.OnRouteStored.
func (h *RouteHints) Observe(rt *model.Route) {
	h.byPubkey.Compute(rt.Pubkey,
		func(old []*model.Route, _ bool) ([]*model.Route, bool) {
			next := make([]*model.Route, 0, len(old)+1)
			for _, r := range old {
				if r.ID != rt.ID {
					next = append(next, r)
				}
			}
			next = append(next, rt)
			sort.SliceStable(next, func(i, j int) bool {
				return next[i].Score > next[j].Score
			})
			return next, false
		})
}

// Prime loads previously persisted routes, typically at startup.
func (h *RouteHints) Prime(rts []*model.Route) {
	for _, rt := range rts {
		h.Observe(rt)
	}
}

func (h *RouteHints) PubkeyHints(c context.Context, pubkey,
	mode string) (urls []string, err error) {

	rts, ok := h.byPubkey.Load(pubkey)
	if !ok {
		return nil, nil
	}
	for _, rt := range rts {
		if rt.Mode != mode && mode != "" {
			continue
		}
		urls = append(urls, rt.URL)
	}
	return
}

var _ query.Hints = (*RouteHints)(nil)
