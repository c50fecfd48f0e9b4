package app

import (
	"context"

	"github.com/nbd-wtf/go-nostr/nip05"
)

// NIP05Verifier resolves identity proofs over the well-known endpoint
// of the address domain.
type NIP05Verifier struct{}

// Verify checks that the address resolves back to the claiming pubkey.
// The relay hints from the resolution document are returned either way
// the proof goes, but callers should only trust them on a match.
func (NIP05Verifier) Verify(c context.Context, pubkey,
	address string) (ok bool, relays []string, err error) {

	pp, err := nip05.QueryIdentifier(c, address)
	if err != nil {
		log.D.F("nip05 lookup for %s failed: %v", address, err)
		return false, nil, err
	}
	return pp.PublicKey == pubkey, pp.Relays, nil
}
