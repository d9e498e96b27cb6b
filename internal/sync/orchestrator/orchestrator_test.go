package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joystream/youtube-synch-go/internal/db/models"
	"github.com/joystream/youtube-synch-go/internal/sync/tasks"
)

// The stage fakes record call order so drain sequencing is observable.

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeChannels struct {
	channels []*models.Channel
}

func (f *fakeChannels) EligibleChannels(ctx context.Context) ([]*models.Channel, error) {
	return f.channels, nil
}

type fakePoller struct {
	rec *recorder
}

func (f *fakePoller) PollCycle(ctx context.Context, channels []*models.Channel) error {
	f.rec.add("poll")
	return nil
}

type fakeDownloader struct {
	rec   *recorder
	queue tasks.Queue
}

func (f *fakeDownloader) Run(ctx context.Context) {
	for range f.queue.Messages() {
	}
	f.rec.add("downloader drained")
}

func (f *fakeDownloader) EnqueueUnsynced(ctx context.Context) (int, error) {
	f.rec.add("plan downloads")
	return 0, nil
}

type fakeCreator struct {
	rec   *recorder
	queue tasks.Queue
}

func (f *fakeCreator) Run(ctx context.Context) {
	for range f.queue.Messages() {
	}
	f.rec.add("creator drained")
}

func (f *fakeCreator) ClearHalts() {
	f.rec.add("clear halts")
}

type fakeUploader struct {
	rec   *recorder
	queue tasks.Queue
}

func (f *fakeUploader) Run(ctx context.Context) {
	for range f.queue.Messages() {
	}
	f.rec.add("uploader drained")
}

func (f *fakeUploader) EnqueuePending(ctx context.Context) (int, error) {
	f.rec.add("plan uploads")
	return 0, nil
}

func (f *fakeUploader) ProbeBuckets(ctx context.Context) error {
	f.rec.add("probe")
	return nil
}

type fakeQuota struct {
	mu     sync.Mutex
	resets int
}

func (f *fakeQuota) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeQuota) NextResetIn() time.Duration { return time.Hour }

func (f *fakeQuota) Usage(pool string) (int, int) { return 0, 100 }

func newTestOrchestrator(rec *recorder, cfg Config) (*Orchestrator, *tasks.MemoryQueue, *tasks.MemoryQueue, *tasks.MemoryQueue) {
	downloads := tasks.NewMemoryQueue(8)
	creations := tasks.NewMemoryQueue(8)
	uploads := tasks.NewMemoryQueue(8)

	o := New(cfg,
		&fakeChannels{},
		&fakePoller{rec: rec},
		&fakeDownloader{rec: rec, queue: downloads},
		&fakeCreator{rec: rec, queue: creations},
		&fakeUploader{rec: rec, queue: uploads},
		&fakeQuota{},
		downloads, creations, uploads,
		nil, nil)
	return o, downloads, creations, uploads
}

// One scheduling round runs poll, then plans downloads and uploads, with the
// voucher halts cleared up front.
func TestPollCycleSequence(t *testing.T) {
	rec := &recorder{}
	o, _, _, _ := newTestOrchestrator(rec, Config{
		PollInterval:  time.Hour,
		ProbeInterval: time.Hour,
		DrainGrace:    time.Second,
	})

	o.pollCycle(context.Background())

	assert.Equal(t, []string{"clear halts", "poll", "plan downloads", "plan uploads"}, rec.list())
}

// Shutdown drains the stages in reverse pipeline order: uploader first,
// downloader last.
func TestRunDrainsInReverseOrder(t *testing.T) {
	rec := &recorder{}
	o, _, _, _ := newTestOrchestrator(rec, Config{
		PollInterval:  time.Hour,
		ProbeInterval: time.Hour,
		DrainGrace:    2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	// Give the first cycle time to execute, then shut down.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not drain")
	}

	events := rec.list()
	idx := func(event string) int {
		for i, e := range events {
			if e == event {
				return i
			}
		}
		t.Fatalf("event %q not recorded in %v", event, events)
		return -1
	}

	require.Contains(t, events, "uploader drained")
	assert.Less(t, idx("uploader drained"), idx("creator drained"))
	assert.Less(t, idx("creator drained"), idx("downloader drained"))
}

// A cancelled context stops scheduling before the next round: no new
// admissions during drain.
func TestNoCyclesAfterShutdown(t *testing.T) {
	rec := &recorder{}
	o, _, _, _ := newTestOrchestrator(rec, Config{
		PollInterval:  50 * time.Millisecond,
		ProbeInterval: time.Hour,
		DrainGrace:    time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)

	time.Sleep(75 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)

	countPolls := 0
	for _, e := range rec.list() {
		if e == "poll" {
			countPolls++
		}
	}
	before := countPolls

	time.Sleep(150 * time.Millisecond)
	countPolls = 0
	for _, e := range rec.list() {
		if e == "poll" {
			countPolls++
		}
	}
	assert.Equal(t, before, countPolls)
}
