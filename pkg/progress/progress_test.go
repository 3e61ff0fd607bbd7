package progress

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Publish(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func TestHub_DeliversToJobSubscribers(t *testing.T) {
	h := NewHub(4)
	a, unsubA := h.Subscribe("job-a")
	defer unsubA()
	b, unsubB := h.Subscribe("job-b")
	defer unsubB()

	h.Publish(Update{JobID: "job-a", Seq: 1, Progress: 50})

	select {
	case u := <-a:
		assert.Equal(t, 50, u.Progress)
	case <-time.After(time.Second):
		t.Fatal("expected update on job-a")
	}
	select {
	case u := <-b:
		t.Fatalf("unexpected update on job-b: %+v", u)
	default:
	}
	assert.Equal(t, 1, h.Subscribers("job-a"))
}

func TestHub_DropsStaleSequences(t *testing.T) {
	h := NewHub(8)
	ch, unsub := h.Subscribe("j")
	defer unsub()

	h.Publish(Update{JobID: "j", Seq: 2, Progress: 50})
	h.Publish(Update{JobID: "j", Seq: 1, Progress: 25})
	h.Publish(Update{JobID: "j", Seq: 3, Progress: 100, Terminal: true})
	h.Publish(Update{JobID: "j", Seq: 2, Progress: 50})

	var got []int
	for i := 0; i < 2; i++ {
		got = append(got, (<-ch).Progress)
	}
	assert.Equal(t, []int{50, 100}, got)
	assert.Len(t, ch, 0)

	h.Forget("j")
	h.Publish(Update{JobID: "j", Seq: 1, Progress: 10})
	assert.Equal(t, 10, (<-ch).Progress)
}

func TestHub_TerminalReleasesSequenceState(t *testing.T) {
	h := NewHub(8)
	ch, unsub := h.Subscribe("deleted")
	defer unsub()

	// A delete forgets the job before the run publishes its final update.
	h.Publish(Update{JobID: "deleted", Seq: 1, Progress: 40})
	h.Forget("deleted")
	h.Publish(Update{JobID: "deleted", Seq: 2, Progress: 40, Message: "Job deleted", Terminal: true})
	h.Publish(Update{JobID: "deleted", Seq: 3, Progress: 60})

	assert.Equal(t, 40, (<-ch).Progress)
	last := <-ch
	assert.True(t, last.Terminal)
	assert.Len(t, ch, 0)

	open, closed := h.tracked()
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, closed)
}

func TestHub_ClosedJobsAreBounded(t *testing.T) {
	h := NewHub(1)
	for i := 0; i < closedJobsCap+10; i++ {
		id := fmt.Sprintf("job-%d", i)
		h.Publish(Update{JobID: id, Seq: 1})
		h.Publish(Update{JobID: id, Seq: 2, Terminal: true})
	}

	open, closed := h.tracked()
	assert.Equal(t, 0, open)
	assert.Equal(t, closedJobsCap, closed)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	_, unsub := h.Subscribe("j")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 10; i++ {
			h.Publish(Update{JobID: "j", Seq: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(9), h.Dropped())
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(1)
	ch, unsub := h.Subscribe("j")
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("j"))
	h.Publish(Update{JobID: "j", Seq: 1})
}

func TestMulti_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &recorder{}
	m := NewMulti(zap.New(core),
		PublisherFunc(func(Update) { panic("boom") }),
		nil,
		rec,
	)

	m.Publish(Update{JobID: "j", Progress: 10})

	require.Len(t, rec.snapshot(), 1)
	assert.Equal(t, 1, logs.FilterMessage("Progress publisher panicked").Len())
}

func TestLogPublisher_Levels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := NewLogPublisher(zap.New(core))

	p.Publish(Update{JobID: "j", Progress: 50, Status: "PROCESSING"})
	p.Publish(Update{JobID: "j", Progress: 100, Status: "COMPLETED", Terminal: true})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, "Job finished", entries[1].Message)
	assert.Equal(t, "COMPLETED", entries[1].ContextMap()["status"])
}

func TestBusRelay_ForwardsInOrder(t *testing.T) {
	bus := NewGoChannelBus(16, NewZapLoggerAdapter(nil))
	defer func() { _ = bus.Close() }()

	hub := NewHub(64)
	ch, unsub := hub.Subscribe("j")
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(bus, "", hub, nil)
	done, err := relay.Start(ctx)
	require.NoError(t, err)

	pub := NewBusPublisher(bus, "", nil)
	for i := 1; i <= 20; i++ {
		pub.Publish(Update{JobID: "j", Seq: uint64(i), Progress: i * 5})
	}

	var got []int
	timeout := time.After(2 * time.Second)
	for len(got) < 20 {
		select {
		case u := <-ch:
			got = append(got, u.Progress)
		case <-timeout:
			t.Fatalf("received %d of 20 updates", len(got))
		}
	}
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestBusPublisher_ClosedBusIsBestEffort(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := NewGoChannelBus(1, watermill.NopLogger{})
	require.NoError(t, bus.Close())

	pub := NewBusPublisher(bus, "topic", zap.New(core))
	pub.Publish(Update{JobID: "j"})
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish progress update").Len())
}

func TestZapLoggerAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	a := NewZapLoggerAdapter(zap.New(core)).With(watermill.LogFields{"topic": "t"})

	a.Info("info", watermill.LogFields{"k": 1})
	a.Trace("trace", nil)
	a.Error("err", assert.AnError, nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "t", entries[0].ContextMap()["topic"])
	assert.Equal(t, zap.DebugLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
}
