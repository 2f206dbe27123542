package chatlog

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/speak-arena/internal/common"
)

// RedisLog stores each channel as a sorted set scored by timestamp and announces
// every append on a pub/sub topic so live views can reload their window.
type RedisLog struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLog(rdb *redis.Client) *RedisLog {
	return &RedisLog{rdb: rdb, prefix: "chat:"}
}

func (l *RedisLog) logKey(channel string) string    { return l.prefix + channel }
func (l *RedisLog) notifyKey(channel string) string { return l.prefix + channel + ":events" }

func (l *RedisLog) Append(ctx context.Context, channel string, e Entry) (Message, error) {
	if channel == "" {
		return Message{}, ErrInvalidChannel
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
	b, err := json.Marshal(m)
	if err != nil {
		return Message{}, err
	}

	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, l.logKey(channel), redis.Z{Score: float64(m.Timestamp), Member: b})
		p.Publish(ctx, l.notifyKey(channel), m.ID)
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// last reads the newest limit records of a channel, oldest first.
func (l *RedisLog) last(ctx context.Context, channel string, limit int) ([]Message, error) {
	raw, err := l.rdb.ZRevRange(ctx, l.logKey(channel), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			log.Printf("[chatlog] skip undecodable record channel=%s err=%v", channel, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return Window(msgs, limit), nil
}

func (l *RedisLog) SubscribeLast(ctx context.Context, channel string, limit int) (*Subscription, error) {
	if channel == "" {
		return nil, ErrInvalidChannel
	}
	if limit <= 0 {
		limit = DefaultWindow
	}

	ps := l.rdb.Subscribe(ctx, l.notifyKey(channel))
	// wait for the subscription to be confirmed so no append is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	first, err := l.last(ctx, channel, limit)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan []Message, 1)
	offer(out, first)

	done := make(chan struct{})
	sub := &Subscription{C: out}
	sub.stop = func() {
		close(done)
		_ = ps.Close()
	}

	events := ps.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				sub.Close()
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				w, err := l.last(ctx, channel, limit)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					log.Printf("[chatlog] reload window failed channel=%s err=%v", channel, err)
					continue
				}
				offer(out, w)
			}
		}
	}()
	return sub, nil
}

func (l *RedisLog) SetHand(ctx context.Context, roomID string, h Hand) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return l.rdb.HSet(ctx, l.prefix+handsKey(roomID), h.PlayerID, b).Err()
}

func (l *RedisLog) ClearHand(ctx context.Context, roomID, playerID string) error {
	return l.rdb.HDel(ctx, l.prefix+handsKey(roomID), playerID).Err()
}

func (l *RedisLog) Hands(ctx context.Context, roomID string) ([]Hand, error) {
	raw, err := l.rdb.HGetAll(ctx, l.prefix+handsKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Hand, 0, len(raw))
	for _, v := range raw {
		var h Hand
		if err := json.Unmarshal([]byte(v), &h); err != nil {
			continue
		}
		out = append(out, h)
	}
	sortHands(out)
	return out, nil
}
