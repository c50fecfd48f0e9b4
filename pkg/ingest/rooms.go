package ingest

import (
	"context"
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"

	"github.com/quentintaranpino/coracle/pkg/model"
)

// roomContent is the constrained shape accepted for room creation and
// edit events. Anything else in the content is dropped.
type roomContent struct {
	Name    string `json:"name"`
	About   string `json:"about"`
	Picture string `json:"picture"`
}

func (in *Ingester) processRooms(c context.Context,
	evs []model.Event) (err error) {

	updates := map[string]*model.Room{}

	for _, e := range evs {
		if e.Kind != nostr.KindChannelCreation &&
			e.Kind != nostr.KindChannelMetadata {
			continue
		}
		id := e.ID
		if e.Kind == nostr.KindChannelMetadata {
			id = ""
			if t := e.Tags.GetFirst([]string{"e", ""}); t != nil {
				id = t.Value()
			}
			if id == "" {
				log.D.F("room edit %s names no room", e.ID)
				continue
			}
		}
		var content roomContent
		if err = json.Unmarshal([]byte(e.Content), &content); err != nil {
			log.D.F("unparsable room content in %s: %v", e.ID, err)
			err = nil
			continue
		}
		if content.Name == "" {
			continue
		}

		r := updates[id]
		if r == nil {
			if r, err = in.Store.Rooms().Get(c, id); chk.E(err) {
				return
			}
		}
		// edits only move the room forward
		if r != nil && r.EditedAt >= e.CreatedAt {
			continue
		}
		joined := false
		if r != nil {
			joined = r.Joined
		}
		updates[id] = &model.Room{
			ID:        id,
			Name:      content.Name,
			About:     content.About,
			Picture:   content.Picture,
			Pubkey:    e.PubKey,
			Joined:    joined,
			EditedAt:  e.CreatedAt,
			UpdatedAt: in.now(),
		}
	}

	if len(updates) == 0 {
		return nil
	}
	if err = in.Store.Rooms().BulkReplace(c, updates); chk.E(err) {
		return
	}
	for _, r := range updates {
		for _, hook := range in.OnRoomStored {
			hook(r)
		}
	}
	return
}
