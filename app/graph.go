package app

import (
	"context"

	"github.com/quentintaranpino/coracle/pkg/model"
	"github.com/quentintaranpino/coracle/pkg/store"
)

// SocialGraph answers follow queries from stored people records.
type SocialGraph struct {
	People store.Bucket[model.Person]
}

func (g *SocialGraph) Follows(c context.Context,
	pubkey string) (pubkeys []string, err error) {

	var p *model.Person
	if p, err = g.People.Get(c, pubkey); chk.E(err) {
		return
	}
	if p == nil {
		return nil, nil
	}
	return p.FollowedPubkeys(), nil
}

// Network is the set of people followed by follows, excluding the
// follows themselves and the starting pubkey.
func (g *SocialGraph) Network(c context.Context,
	pubkey string) (pubkeys []string, err error) {

	var follows []string
	if follows, err = g.Follows(c, pubkey); err != nil {
		return
	}
	direct := map[string]bool{pubkey: true}
	for _, pk := range follows {
		direct[pk] = true
	}
	seen := map[string]bool{}
	for _, pk := range follows {
		var p *model.Person
		if p, err = g.People.Get(c, pk); chk.E(err) {
			return
		}
		if p == nil {
			continue
		}
		for _, fpk := range p.FollowedPubkeys() {
			if direct[fpk] || seen[fpk] {
				continue
			}
			seen[fpk] = true
			pubkeys = append(pubkeys, fpk)
		}
	}
	return
}
