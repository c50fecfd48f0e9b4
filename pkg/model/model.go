// Package model defines the local projections the sync engine maintains:
// people, rooms, direct messages, relays and relay routes. All records are
// written through the store port as whole JSON documents, merged shallowly
// by key, so every field that is only conditionally updated carries its own
// timestamp.
package model

import (
	"github.com/nbd-wtf/go-nostr"
)

// Event is a wire event annotated with the relays it has been confirmed
// seen on. The wire shape itself is go-nostr's, never mutated.
type Event struct {
	*nostr.Event
	SeenOn []string
}

// RelayEntry is one relay a person has declared they read from or write to.
type RelayEntry struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// Person collects everything known about a pubkey. Each timestamped
// sub-field is only overwritten by an event strictly newer than the stored
// timestamp; the sub-fields advance independently.
type Person struct {
	Pubkey           string          `json:"pubkey"`
	Profile          map[string]any  `json:"profile,omitempty"`
	ProfileUpdatedAt nostr.Timestamp `json:"profile_updated_at,omitempty"`
	NIP05UpdatedAt   nostr.Timestamp `json:"nip05_updated_at,omitempty"`
	Relays           []RelayEntry    `json:"relays,omitempty"`
	RelaysUpdatedAt  nostr.Timestamp `json:"relays_updated_at,omitempty"`
	Petnames         nostr.Tags      `json:"petnames,omitempty"`
	Mutes            nostr.Tags      `json:"mutes,omitempty"`
	VerifiedAs       string          `json:"verified_as,omitempty"`
	UpdatedAt        nostr.Timestamp `json:"updated_at,omitempty"`
}

// NewPerson returns the zero-valued fallback record for a pubkey.
func NewPerson(pubkey string) (p *Person) {
	return &Person{Pubkey: pubkey}
}

// FollowedPubkeys extracts the followed keys from the petname tag list.
func (p *Person) FollowedPubkeys() (pubkeys []string) {
	for _, t := range p.Petnames {
		if len(t) > 1 && t[0] == "p" {
			pubkeys = append(pubkeys, t[1])
		}
	}
	return
}

// MutedPubkeys extracts the muted keys from the mute tag list.
func (p *Person) MutedPubkeys() (pubkeys []string) {
	for _, t := range p.Mutes {
		if len(t) > 1 && t[0] == "p" {
			pubkeys = append(pubkeys, t[1])
		}
	}
	return
}

// Room is a chat room projection, keyed by the creation event id (or the
// referenced id for edits). A room without a name is never stored.
type Room struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	About     string          `json:"about,omitempty"`
	Picture   string          `json:"picture,omitempty"`
	Pubkey    string          `json:"pubkey"`
	Joined    bool            `json:"joined"`
	EditedAt  nostr.Timestamp `json:"edited_at"`
	UpdatedAt nostr.Timestamp `json:"updated_at"`
}

// Message is a direct message, immutable once stored, augmented with the
// recipient derived from the first p tag.
type Message struct {
	ID        string          `json:"id"`
	Pubkey    string          `json:"pubkey"`
	CreatedAt nostr.Timestamp `json:"created_at"`
	Tags      nostr.Tags      `json:"tags,omitempty"`
	Content   string          `json:"content"`
	Recipient string          `json:"recipient,omitempty"`
}

// Relay is a minimal existence record for a normalized relay url, created
// as a side effect of route derivation.
type Relay struct {
	URL string `json:"url"`
}

// Route is a scored belief that a pubkey reads or writes via a relay.
// Score is the running mean of per-observation scores, Count only
// increases and Types only grows.
type Route struct {
	ID       string          `json:"id"`
	Pubkey   string          `json:"pubkey"`
	URL      string          `json:"url"`
	Mode     string          `json:"mode"`
	Score    float64         `json:"score"`
	Count    int64           `json:"count"`
	Types    []string        `json:"types,omitempty"`
	LastSeen nostr.Timestamp `json:"last_seen,omitempty"`
}
