package ingest

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/quentintaranpino/coracle/pkg/model"
)

func (in *Ingester) processMessages(c context.Context,
	evs []model.Event) (err error) {

	updates := map[string]*model.Message{}

	for _, e := range evs {
		if e.Kind != nostr.KindEncryptedDirectMessage {
			continue
		}
		var recipient string
		if t := e.Tags.GetFirst([]string{"p", ""}); t != nil {
			recipient = t.Value()
		}
		updates[e.ID] = &model.Message{
			ID:        e.ID,
			Pubkey:    e.PubKey,
			CreatedAt: e.CreatedAt,
			Tags:      e.Tags,
			Content:   e.Content,
			Recipient: recipient,
		}
	}

	if len(updates) == 0 {
		return nil
	}
	if err = in.Store.Messages().BulkReplace(c, updates); chk.E(err) {
		return
	}
	for _, m := range updates {
		for _, hook := range in.OnMessageStored {
			hook(m)
		}
	}
	return
}
