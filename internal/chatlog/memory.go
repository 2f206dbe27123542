package chatlog

import (
	"context"
	"sync"

	"github.com/suPer8Hu/speak-arena/internal/common"
)

type memorySub struct {
	ch    chan []Message
	limit int
}

// MemoryLog keeps every channel in process memory.
type MemoryLog struct {
	mu       sync.Mutex
	channels map[string][]Message
	subs     map[string]map[int]*memorySub
	hands    map[string]map[string]Hand
	nextSub  int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		channels: make(map[string][]Message),
		subs:     make(map[string]map[int]*memorySub),
		hands:    make(map[string]map[string]Hand),
	}
}

func (l *MemoryLog) Append(ctx context.Context, channel string, e Entry) (Message, error) {
	if channel == "" {
		return Message{}, ErrInvalidChannel
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	id, err := common.NewULID()
	if err != nil {
		return Message{}, err
	}
	m := Message{
		ID:           id,
		Sender:       e.Sender,
		Message:      e.Message,
		SenderAvatar: e.SenderAvatar,
		Timestamp:    e.Timestamp,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels[channel] = append(l.channels[channel], m)
	for _, s := range l.subs[channel] {
		offer(s.ch, Window(l.channels[channel], s.limit))
	}
	return m, nil
}

func (l *MemoryLog) SubscribeLast(ctx context.Context, channel string, limit int) (*Subscription, error) {
	if channel == "" {
		return nil, ErrInvalidChannel
	}
	if limit <= 0 {
		limit = DefaultWindow
	}

	ch := make(chan []Message, 1)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	if l.subs[channel] == nil {
		l.subs[channel] = make(map[int]*memorySub)
	}
	l.subs[channel][id] = &memorySub{ch: ch, limit: limit}
	offer(ch, Window(l.channels[channel], limit))
	l.mu.Unlock()

	done := make(chan struct{})
	sub := &Subscription{C: ch}
	sub.stop = func() {
		l.mu.Lock()
		delete(l.subs[channel], id)
		if len(l.subs[channel]) == 0 {
			delete(l.subs, channel)
		}
		close(ch)
		l.mu.Unlock()
		close(done)
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
	return sub, nil
}

func (l *MemoryLog) SetHand(ctx context.Context, roomID string, h Hand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := handsKey(roomID)
	if l.hands[key] == nil {
		l.hands[key] = make(map[string]Hand)
	}
	l.hands[key][h.PlayerID] = h
	return nil
}

func (l *MemoryLog) ClearHand(ctx context.Context, roomID, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hands[handsKey(roomID)], playerID)
	return nil
}

func (l *MemoryLog) Hands(ctx context.Context, roomID string) ([]Hand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	out := make([]Hand, 0, len(l.hands[handsKey(roomID)]))
	for _, h := range l.hands[handsKey(roomID)] {
		out = append(out, h)
	}
	l.mu.Unlock()
	sortHands(out)
	return out, nil
}
