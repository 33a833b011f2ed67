package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwise/logistics-cli/internal/model"
)

func testInquiry() model.Inquiry {
	return model.Inquiry{
		Description: "LED bulbs, 500 units",
		WeightKg:    120,
		Origin:      "Guangzhou",
		Destination: "Moscow",
	}
}

func TestAcquireOrJoin_SingleInitiator(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Second)
	q := testInquiry()

	const waiters = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	initiators := 0
	handles := make(map[*Handle]struct{})

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, initiator := r.AcquireOrJoin(q)
			mu.Lock()
			if initiator {
				initiators++
			}
			handles[h] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, initiators, "exactly one caller must initiate")
	assert.Len(t, handles, 1, "all callers share one handle")
}

func TestSettle_WakesAllWaiters(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Second)
	h, initiator := r.AcquireOrJoin(testInquiry())
	require.True(t, initiator)

	want := &model.Run{ID: h.RunID, State: model.RunCompleted}

	const waiters = 8
	results := make(chan *model.Run, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			run, err := h.Wait(context.Background())
			if err == nil {
				results <- run
			}
		}()
	}

	r.Settle(h, want, nil)
	for i := 0; i < waiters; i++ {
		assert.Same(t, want, <-results)
	}
}

func TestSettle_FirstOutcomeStands(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Second)
	h, _ := r.AcquireOrJoin(testInquiry())

	first := &model.Run{ID: "first"}
	r.Settle(h, first, nil)
	r.Settle(h, &model.Run{ID: "second"}, nil)

	run, err := h.Outcome()
	require.NoError(t, err)
	assert.Equal(t, "first", run.ID)
}

func TestAcquireOrJoin_GracePeriodJoinsFinishedRun(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	r := NewRegistry(time.Minute).WithNow(func() time.Time { return now })

	h, _ := r.AcquireOrJoin(testInquiry())
	r.Settle(h, &model.Run{ID: h.RunID}, nil)

	// Within grace: a duplicate gets the finished run.
	now = now.Add(30 * time.Second)
	joined, initiator := r.AcquireOrJoin(testInquiry())
	assert.False(t, initiator)
	assert.Same(t, h, joined)

	// After grace: a new run starts.
	now = now.Add(31 * time.Second)
	fresh, initiator := r.AcquireOrJoin(testInquiry())
	assert.True(t, initiator)
	assert.NotSame(t, h, fresh)
}

func TestAcquireOrJoin_DistinctInquiriesDistinctRuns(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Second)
	a, initA := r.AcquireOrJoin(testInquiry())

	other := testInquiry()
	other.WeightKg = 500
	b, initB := r.AcquireOrJoin(other)

	assert.True(t, initA)
	assert.True(t, initB)
	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.InquiryID, b.InquiryID)
}

func TestWait_RespectsCallerContext(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Second)
	h, _ := r.AcquireOrJoin(testInquiry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The run itself is unaffected and settles normally for other waiters.
	r.Settle(h, &model.Run{ID: h.RunID}, nil)
	run, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.RunID, run.ID)
}

func TestSweep_DropsOnlyElapsedSettled(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	r := NewRegistry(time.Minute).WithNow(func() time.Time { return now })

	settled, _ := r.AcquireOrJoin(testInquiry())
	r.Settle(settled, &model.Run{}, nil)

	pending := testInquiry()
	pending.WeightKg = 999
	_, _ = r.AcquireOrJoin(pending)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep(), "only the settled entry past grace is dropped")
	assert.Equal(t, 1, r.Live())
}
