package adapter

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"

	kit "userbot/internal/transport"
)

const defaultHistoryBatch = 100

// History pages through a chat newest first. With FromUserID set it uses
// messages.search with a from_id filter, otherwise messages.getHistory.
func (a *Adapter) History(ctx context.Context, chat kit.Peer, q kit.HistoryQuery) kit.HistoryIter {
	it := &historyIter{a: a, chat: chat, q: q, pos: -1}
	if q.BatchSize <= 0 || q.BatchSize > defaultHistoryBatch {
		it.q.BatchSize = defaultHistoryBatch
	}
	ip, err := a.inputPeer(ctx, chat)
	if err != nil {
		it.err = err
		return it
	}
	it.peer = ip
	if q.FromUserID != 0 {
		from, err := a.ResolveUser(ctx, q.FromUserID)
		if err != nil {
			it.err = err
			return it
		}
		fp, ok := from.Input.(tg.InputPeerClass)
		if !ok {
			it.err = fmt.Errorf("user %d: %w", q.FromUserID, kit.ErrNotFound)
			return it
		}
		it.from = fp
	}
	return it
}

type historyIter struct {
	a    *Adapter
	chat kit.Peer
	peer tg.InputPeerClass
	from tg.InputPeerClass
	q    kit.HistoryQuery

	buf      []*kit.Message
	pos      int
	offsetID int
	yielded  int
	done     bool
	err      error
}

func (it *historyIter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.q.Limit > 0 && it.yielded >= it.q.Limit {
		return false
	}
	for it.pos+1 >= len(it.buf) {
		if it.done {
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
	}
	it.pos++
	it.yielded++
	return true
}

func (it *historyIter) Value() *kit.Message { return it.buf[it.pos] }

func (it *historyIter) Err() error { return it.err }

func (it *historyIter) fetch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := it.q.BatchSize
	if it.q.Limit > 0 {
		batch = min(batch, it.q.Limit-it.yielded)
	}

	var (
		res tg.MessagesMessagesClass
		err error
	)
	if it.from != nil {
		res, err = it.a.api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
			Peer:     it.peer,
			FromID:   it.from,
			Filter:   &tg.InputMessagesFilterEmpty{},
			OffsetID: it.offsetID,
			Limit:    batch,
		})
	} else {
		res, err = it.a.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     it.peer,
			OffsetID: it.offsetID,
			Limit:    batch,
		})
	}
	if err != nil {
		return fmt.Errorf("history page (offset %d): %w", it.offsetID, err)
	}

	msgs, users, chats, ok := unpackMessages(res)
	if !ok {
		it.done = true
		it.buf, it.pos = nil, -1
		return nil
	}
	em := newEntityMaps(users, chats)
	it.a.applyEntities(ctx, em.users, em.chats, em.channels)

	page := make([]*kit.Message, 0, len(msgs))
	lowest := 0
	for _, mc := range msgs {
		id := mc.GetID()
		if lowest == 0 || id < lowest {
			lowest = id
		}
		m, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		km := convertMessage(m, em.users, em.chats, em.channels, it.a.selfID())
		if km.Chat.Input == nil {
			km.Chat = it.chat
		}
		page = append(page, km)
	}
	if len(msgs) < batch || lowest == 0 || (it.offsetID != 0 && lowest >= it.offsetID) {
		it.done = true
	}
	it.offsetID = lowest
	it.buf, it.pos = page, -1
	return nil
}
