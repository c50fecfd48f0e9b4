// Package query compiles high level query intents into the minimal set of
// concrete relay filters, and provides the matching and cost heuristics the
// polling layer uses.
package query

import (
	"context"
	"encoding/hex"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/exp/slices"
	"lukechampine.com/frand"

	"github.com/quentintaranpino/coracle/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// Author scopes a symbolic filter can carry instead of a literal list.
const (
	ScopeGlobal  = "global"
	ScopeFollows = "follows"
	ScopeNetwork = "network"
)

// maxAuthors caps resolved author sets to bound request size. The set is
// shuffled before capping, so membership beyond the cap varies per call.
const maxAuthors = 1000

// Intent is a filter whose authors may still be symbolic. An empty Scope
// means the embedded filter is already concrete.
type Intent struct {
	nostr.Filter
	Scope string
}

// Graph resolves the social graph for symbolic author scopes.
type Graph interface {
	// Follows returns the pubkeys the given pubkey follows.
	Follows(c context.Context, pubkey string) (pubkeys []string, err error)
	// Network returns follow-of-follows, excluding direct follows.
	Network(c context.Context, pubkey string) (pubkeys []string, err error)
}

// Hints ranks relay urls likely associated with a pubkey.
type Hints interface {
	PubkeyHints(c context.Context, pubkey, mode string) (urls []string,
		err error)
}

// Compiler resolves intents against a social graph.
type Compiler struct {
	Graph Graph
	Hints Hints
	// Self is the caller's own pubkey, the root for follow scopes.
	Self string
	// DefaultAuthors is the fallback when a resolved scope is empty.
	DefaultAuthors []string
}

// Compile resolves a symbolic intent to a concrete filter. The global
// scope drops the author constraint entirely; follows and network resolve
// through the graph with the default-author fallback.
func (cp *Compiler) Compile(c context.Context, in Intent) (f nostr.Filter,
	err error) {

	f = in.Filter
	switch in.Scope {
	case ScopeGlobal:
		f.Authors = nil
	case ScopeFollows:
		var pubkeys []string
		if pubkeys, err = cp.Graph.Follows(c, cp.Self); chk.E(err) {
			return
		}
		f.Authors = cp.withDefaults(pubkeys)
	case ScopeNetwork:
		var pubkeys []string
		if pubkeys, err = cp.Graph.Network(c, cp.Self); chk.E(err) {
			return
		}
		f.Authors = cp.withDefaults(pubkeys)
	}
	return
}

// withDefaults substitutes the configured default author list for an empty
// set, then shuffles and caps the result.
func (cp *Compiler) withDefaults(pubkeys []string) (authors []string) {
	if len(pubkeys) == 0 {
		pubkeys = cp.DefaultAuthors
	}
	authors = slices.Clone(pubkeys)
	frand.Shuffle(len(authors), func(i, j int) {
		authors[i], authors[j] = authors[j], authors[i]
	})
	if len(authors) > maxAuthors {
		authors = authors[:maxAuthors]
	}
	return
}

// RelaysFor merges relay hints for a filter set: write hints for every
// author constraint, read hints for the caller otherwise.
func (cp *Compiler) RelaysFor(c context.Context,
	filters []nostr.Filter) (urls []string, err error) {

	var groups [][]string
	for _, f := range filters {
		if len(f.Authors) == 0 {
			var hints []string
			if hints, err = cp.Hints.PubkeyHints(c, cp.Self,
				"read"); chk.E(err) {
				return
			}
			groups = append(groups, hints)
			continue
		}
		for _, pubkey := range f.Authors {
			var hints []string
			if hints, err = cp.Hints.PubkeyHints(c, pubkey,
				"write"); chk.E(err) {
				return
			}
			groups = append(groups, hints)
		}
	}
	return MergeHints(groups...), nil
}

// MergeHints folds ranked hint lists into one ranking, weighting each url
// by its position in every list it appears in.
func MergeHints(groups ...[]string) (urls []string) {
	scores := map[string]float64{}
	for _, group := range groups {
		for i, url := range group {
			scores[url] += 1 / float64(i+1)
		}
	}
	for url := range scores {
		urls = append(urls, url)
	}
	slices.SortStableFunc(urls, func(a, b string) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return strings.Compare(a, b)
	})
	return
}

// groupKey builds the merge key for a filter: its non-range field names
// plus markers for the scalar fields. A filter carrying a limit gets a
// fresh random marker so differently sized page requests never merge.
func groupKey(f nostr.Filter) (key string) {
	var parts []string
	if len(f.IDs) > 0 {
		parts = append(parts, "ids")
	}
	if len(f.Kinds) > 0 {
		parts = append(parts, "kinds")
	}
	if len(f.Authors) > 0 {
		parts = append(parts, "authors")
	}
	for name := range f.Tags {
		parts = append(parts, "#"+name)
	}
	if f.Since != nil {
		parts = append(parts, "since:"+strconv.FormatInt(int64(*f.Since), 10))
	}
	if f.Until != nil {
		parts = append(parts, "until:"+strconv.FormatInt(int64(*f.Until), 10))
	}
	if f.Limit > 0 {
		parts = append(parts, "limit:"+randomID())
	}
	if f.Search != "" {
		parts = append(parts, "search:"+f.Search)
	}
	slices.Sort(parts)
	return strings.Join(parts, "-")
}

func randomID() (id string) {
	return hex.EncodeToString(frand.Bytes(4))
}

// Combine merges compatible filters to minimize request count. Scalar
// fields are taken from the first member of each group, array fields are
// unioned without duplicates. Because the limit marker is randomized per
// call, Combine is intentionally not idempotent for filters carrying a
// limit; without limits it is a fixed point.
func Combine(filters []nostr.Filter) (result []nostr.Filter) {
	groups := map[string][]nostr.Filter{}
	var order []string
	for _, f := range filters {
		key := groupKey(f)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], f)
	}
	for _, key := range order {
		group := groups[key]
		merged := nostr.Filter{
			Since:  group[0].Since,
			Until:  group[0].Until,
			Limit:  group[0].Limit,
			Search: group[0].Search,
		}
		for _, f := range group {
			merged.IDs = unionStrings(merged.IDs, f.IDs)
			merged.Authors = unionStrings(merged.Authors, f.Authors)
			merged.Kinds = unionInts(merged.Kinds, f.Kinds)
			for name, values := range f.Tags {
				if merged.Tags == nil {
					merged.Tags = nostr.TagMap{}
				}
				merged.Tags[name] = unionStrings(merged.Tags[name], values)
			}
		}
		result = append(result, merged)
	}
	return
}

func unionStrings(have, add []string) []string {
	for _, v := range add {
		if !slices.Contains(have, v) {
			have = append(have, v)
		}
	}
	return have
}

func unionInts(have, add []int) []int {
	for _, v := range add {
		if !slices.Contains(have, v) {
			have = append(have, v)
		}
	}
	return have
}

// IDFilters converts reference strings into filters: composite address
// references (kind:pubkey:d-tag) become merged address filters, plain ids
// become one trailing ids filter.
func IDFilters(refs []string) (filters []nostr.Filter) {
	var ids []string
	var addressed []nostr.Filter
	for _, ref := range refs {
		if strings.Contains(ref, ":") {
			if f, ok := addressFilter(ref); ok {
				addressed = append(addressed, f)
				continue
			}
			log.D.F("skipping malformed address reference %s", ref)
			continue
		}
		ids = append(ids, ref)
	}
	filters = Combine(addressed)
	if len(ids) > 0 {
		filters = append(filters, nostr.Filter{IDs: ids})
	}
	return
}

func addressFilter(ref string) (f nostr.Filter, ok bool) {
	parts := strings.SplitN(ref, ":", 3)
	if len(parts) != 3 {
		return
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return
	}
	return nostr.Filter{
		Kinds:   []int{kind},
		Authors: []string{parts[1]},
		Tags:    nostr.TagMap{"d": []string{parts[2]}},
	}, true
}

// ReplyFilters builds up to two filters matching replies to the given
// events: one over referenced ids, and one over composite addresses for
// source events of replaceable kinds.
func ReplyFilters(events []*nostr.Event, base nostr.Filter) (filters []nostr.Filter) {
	var addrs, ids []string
	for _, ev := range events {
		ids = append(ids, ev.ID)
		if ev.Kind >= 10000 {
			d := ""
			if tag := ev.Tags.GetFirst([]string{"d", ""}); tag != nil {
				d = tag.Value()
			}
			addrs = append(addrs,
				strings.Join([]string{
					strconv.Itoa(ev.Kind), ev.PubKey, d,
				}, ":"))
		}
	}
	if len(addrs) > 0 {
		filters = append(filters, withTag(base, "a", addrs))
	}
	if len(ids) > 0 {
		filters = append(filters, withTag(base, "e", ids))
	}
	return
}

func withTag(f nostr.Filter, name string, values []string) nostr.Filter {
	tags := nostr.TagMap{}
	for k, v := range f.Tags {
		tags[k] = v
	}
	tags[name] = values
	f.Tags = tags
	return f
}

// Generality scores how broad a filter is, from 0 (id lookups) to 1
// (kind-only). A heuristic, not a cost model.
func Generality(f nostr.Filter) (g float64) {
	if len(f.IDs) > 0 {
		return 0
	}
	if len(f.Authors) > 0 && len(f.Tags) > 0 {
		return 0.2
	}
	if len(f.Authors) > 0 {
		return math.Min(1, float64(len(f.Authors))/100)
	}
	return 1
}

// Delta suggests a look-back window for polling a filter set, scaling a
// day by average specificity with a floor of half a percent of a day.
// More specific filter sets get the larger interval; broad ones bottom
// out at the floor. Preserved as observed in the polling caller, not
// inverted.
func Delta(filters []nostr.Filter) (d time.Duration) {
	if len(filters) == 0 {
		return 24 * time.Hour
	}
	var total float64
	for _, f := range filters {
		total += Generality(f)
	}
	specificity := 1 - total/float64(len(filters))
	seconds := math.Round(86400 * math.Max(0.005, specificity))
	return time.Duration(seconds) * time.Second
}

// Match applies standard filter semantics plus the free-text constraint:
// a search filter matches only when the lowercased content contains at
// least one term of the search string.
func Match(f nostr.Filter, ev *nostr.Event) (matches bool) {
	if !f.Matches(ev) {
		return false
	}
	if f.Search != "" {
		content := strings.ToLower(ev.Content)
		for _, term := range strings.Fields(strings.ToLower(f.Search)) {
			if strings.Contains(content, term) {
				return true
			}
		}
		return false
	}
	return true
}

// MatchAny reports whether any filter in the set matches the event.
func MatchAny(filters []nostr.Filter, ev *nostr.Event) bool {
	for _, f := range filters {
		if Match(f, ev) {
			return true
		}
	}
	return false
}
