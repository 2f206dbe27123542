package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/speak-arena/internal/chatlog"
	"github.com/suPer8Hu/speak-arena/internal/clock"
)

type failingLog struct {
	*chatlog.MemoryLog
	err error
}

func (l *failingLog) Append(ctx context.Context, channel string, e chatlog.Entry) (chatlog.Message, error) {
	return chatlog.Message{}, l.err
}

// blockingLog holds Append until release is closed.
type blockingLog struct {
	*chatlog.MemoryLog
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLog) Append(ctx context.Context, channel string, e chatlog.Entry) (chatlog.Message, error) {
	close(l.entered)
	<-l.release
	return l.MemoryLog.Append(ctx, channel, e)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func TestSession_SpamScenario(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(1_700_000_000_000)
	ml := chatlog.NewMemoryLog()
	pub := &recordingPublisher{}
	s := NewSession("p1", chatlog.GlobalChannel, ml, clk, DefaultPolicy(), pub)
	s.SetSender("Hero", "")

	// 5 messages within 2 seconds
	for i := 0; i < 5; i++ {
		if _, err := s.AttemptSend(ctx, "hello"); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
		clk.Advance(400 * time.Millisecond)
	}

	_, err := s.AttemptSend(ctx, "one more")
	var rej *RejectedError
	if !errors.As(err, &rej) || !errors.Is(err, ErrMuted) {
		t.Fatalf("expected mute, got %v", err)
	}
	if rej.SecondsRemaining != 60 {
		t.Fatalf("expected Muted(60), got %d", rej.SecondsRemaining)
	}
	if len(pub.events) != 1 || pub.events[0].PlayerID != "p1" || pub.events[0].Sender != "Hero" {
		t.Fatalf("expected one mute event, got %+v", pub.events)
	}

	st := s.Status()
	if !st.Muted || st.SecondsRemaining != 60 {
		t.Fatalf("unexpected status: %+v", st)
	}

	clk.Advance(61 * time.Second)
	if s.Status().Muted {
		t.Fatalf("status should report unmuted after expiry")
	}
	msg, err := s.AttemptSend(ctx, "I'm back")
	if err != nil {
		t.Fatalf("send after mute expiry: %v", err)
	}
	if msg.Sender != "Hero" || msg.Message != "I'm back" || msg.ID == "" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	sub, err := s.Subscribe(ctx, 50)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if w := <-sub.C; len(w) != 6 {
		t.Fatalf("expected 6 messages in log, got %d", len(w))
	}
}

func TestSession_RejectsBlankAndLongText(t *testing.T) {
	s := NewSession("p1", chatlog.GlobalChannel, chatlog.NewMemoryLog(), clock.NewFake(0), DefaultPolicy(), nil)
	if _, err := s.AttemptSend(context.Background(), "   \t"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	long := make([]rune, MaxMessageRunes+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := s.AttemptSend(context.Background(), string(long)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if s.Status().RecentSends != 0 {
		t.Fatalf("invalid text must not use a slot")
	}
}

func TestSession_TransportFailureChargesSlot(t *testing.T) {
	boom := errors.New("permission denied")
	ml := &failingLog{MemoryLog: chatlog.NewMemoryLog(), err: boom}
	s := NewSession("p1", chatlog.GlobalChannel, ml, clock.NewFake(0), DefaultPolicy(), nil)

	_, err := s.AttemptSend(context.Background(), "hi")
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, boom) {
		t.Fatalf("expected transport error wrapping cause, got %v", err)
	}
	if got := s.Status().RecentSends; got != 1 {
		t.Fatalf("expected slot to be charged, got %d", got)
	}
	if s.Status().Sending {
		t.Fatalf("in-flight flag must be released after failure")
	}
}

func TestSession_SingleInFlight(t *testing.T) {
	ml := &blockingLog{
		MemoryLog: chatlog.NewMemoryLog(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	s := NewSession("p1", chatlog.GlobalChannel, ml, clock.NewFake(0), DefaultPolicy(), nil)

	errc := make(chan error, 1)
	go func() {
		_, err := s.AttemptSend(context.Background(), "first")
		errc <- err
	}()
	<-ml.entered

	if _, err := s.AttemptSend(context.Background(), "second"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}

	close(ml.release)
	if err := <-errc; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if got := s.Status().RecentSends; got != 1 {
		t.Fatalf("rejected in-flight attempt must not use a slot, got %d", got)
	}
}

func TestHub_SessionsPerPlayerAndChannel(t *testing.T) {
	clk := clock.NewFake(0)
	h := NewHub(chatlog.NewMemoryLog(), clk, Policy{Limit: 1}, nil)
	ctx := context.Background()

	a := h.Session("p1", chatlog.GlobalChannel)
	if a != h.Session("p1", chatlog.GlobalChannel) {
		t.Fatalf("expected the same session")
	}
	if _, err := a.AttemptSend(ctx, "x"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// other player and other channel are unaffected
	if _, err := h.Session("p2", chatlog.GlobalChannel).AttemptSend(ctx, "x"); err != nil {
		t.Fatalf("p2 send: %v", err)
	}
	if _, err := h.Session("p1", chatlog.RoomChannel("r1")).AttemptSend(ctx, "x"); err != nil {
		t.Fatalf("room send: %v", err)
	}

	if _, err := a.AttemptSend(ctx, "y"); !errors.Is(err, ErrMuted) {
		t.Fatalf("expected mute, got %v", err)
	}
	h.Close("p1", chatlog.RoomChannel("r1"))
	if st := h.Session("p1", chatlog.RoomChannel("r1")).Status(); st.RecentSends != 0 {
		t.Fatalf("teardown should reset state: %+v", st)
	}
}

func TestHub_CloseKeepsRunningMute(t *testing.T) {
	clk := clock.NewFake(0)
	h := NewHub(chatlog.NewMemoryLog(), clk, Policy{Limit: 1, Window: 5 * time.Second, Penalty: time.Minute}, nil)
	ctx := context.Background()
	ch := chatlog.RoomChannel("r1")

	s := h.Session("p1", ch)
	if _, err := s.AttemptSend(ctx, "x"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.AttemptSend(ctx, "y"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	// leave and rejoin at the same instant
	h.Close("p1", ch)
	if _, err := h.Session("p1", ch).AttemptSend(ctx, "back"); !errors.Is(err, ErrMuted) {
		t.Fatalf("mute must survive teardown, got %v", err)
	}

	clk.Advance(time.Minute)
	h.Close("p1", ch)
	if h.Session("p1", ch) == s {
		t.Fatalf("expired session should be replaced on teardown")
	}
	if _, err := h.Session("p1", ch).AttemptSend(ctx, "back"); err != nil {
		t.Fatalf("send after mute: %v", err)
	}
}

func TestHub_SweepDropsIdleUnmutedSessions(t *testing.T) {
	clk := clock.NewFake(0)
	h := NewHub(chatlog.NewMemoryLog(), clk, Policy{Limit: 1, Window: 5 * time.Second, Penalty: time.Hour}, nil)
	ctx := context.Background()

	h.Session("idle", chatlog.GlobalChannel)
	muted := h.Session("spammer", chatlog.GlobalChannel)
	_, _ = muted.AttemptSend(ctx, "x")
	if _, err := muted.AttemptSend(ctx, "y"); !errors.Is(err, ErrMuted) {
		t.Fatalf("expected mute, got %v", err)
	}

	clk.Advance(10 * time.Minute)
	h.Session("active", chatlog.GlobalChannel)

	if n := h.Sweep(5 * time.Minute); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if h.Len() != 2 {
		t.Fatalf("expected muted and active sessions to remain, got %d", h.Len())
	}
	if h.Session("spammer", chatlog.GlobalChannel) != muted {
		t.Fatalf("muted session must not be evicted")
	}
}
