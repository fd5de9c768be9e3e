package sample

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokensweep/tokensweep/pkg/models"
)

type reading struct {
	stats Stats
	err   error
}

// fakeProvider hands out a scripted sequence of readings, repeating the
// last one once the script runs out.
type fakeProvider struct {
	mu       sync.Mutex
	readings []reading
	idx      int
}

func (f *fakeProvider) Sample(ctx context.Context, pid int) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.readings[f.idx]
	if f.idx < len(f.readings)-1 {
		f.idx++
	}
	return r.stats, r.err
}

func TestSamplerRecordsDeltas(t *testing.T) {
	provider := &fakeProvider{readings: []reading{
		{stats: Stats{CPUTime: 100 * time.Millisecond, RSSBytes: 1 << 20}},
		{stats: Stats{CPUTime: 150 * time.Millisecond, RSSBytes: 2 << 20}},
		{stats: Stats{CPUTime: 150 * time.Millisecond, RSSBytes: 2 << 20}},
	}}
	s := NewSampler(provider)
	ctx := context.Background()

	s.poll(ctx, 1234) // baseline only
	assert.Empty(t, s.Snapshot())

	time.Sleep(50 * time.Millisecond)
	s.poll(ctx, 1234)
	time.Sleep(50 * time.Millisecond)
	s.poll(ctx, 1234)

	samples := s.Snapshot()
	require.Len(t, samples, 2)
	// 50ms of CPU across ~50ms of wall clock, then zero CPU
	assert.Greater(t, samples[0].CPUPercent, 20.0)
	assert.Zero(t, samples[1].CPUPercent)
	assert.Equal(t, uint64(2<<20), samples[0].RSSBytes)
}

func TestSamplerSkipsFailedReadings(t *testing.T) {
	provider := &fakeProvider{readings: []reading{
		{stats: Stats{CPUTime: 100 * time.Millisecond, RSSBytes: 1 << 20}},
		{err: errors.New("process gone")},
		{stats: Stats{CPUTime: 120 * time.Millisecond, RSSBytes: 1 << 20}},
	}}
	s := NewSampler(provider)
	ctx := context.Background()

	s.poll(ctx, 1234)
	s.poll(ctx, 1234) // skipped, must not panic or reset the baseline
	time.Sleep(20 * time.Millisecond)
	s.poll(ctx, 1234)

	samples := s.Snapshot()
	require.Len(t, samples, 1)
	assert.Greater(t, samples[0].CPUPercent, 0.0)
}

func TestSamplerRingWraps(t *testing.T) {
	s := NewSampler(&fakeProvider{readings: []reading{{}}}, WithRingSize(4))

	for i := 1; i <= 6; i++ {
		s.push(models.ResourceSample{TimestampMs: int64(i)})
	}

	samples := s.Snapshot()
	require.Len(t, samples, 4)
	var got []int64
	for _, sm := range samples {
		got = append(got, sm.TimestampMs)
	}
	assert.Equal(t, []int64{3, 4, 5, 6}, got)
}

func TestSamplerStartStop(t *testing.T) {
	provider := &fakeProvider{readings: []reading{
		{stats: Stats{CPUTime: 10 * time.Millisecond, RSSBytes: 4096}},
		{stats: Stats{CPUTime: 20 * time.Millisecond, RSSBytes: 4096}},
		{stats: Stats{CPUTime: 30 * time.Millisecond, RSSBytes: 4096}},
	}}
	s := NewSampler(provider, WithInterval(10*time.Millisecond))

	s.Start(context.Background(), 1234)
	assert.Eventually(t, func() bool {
		return len(s.Snapshot()) >= 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	n := len(s.Snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(s.Snapshot()), "sampling must halt after Stop")
}

func TestSamplerStopWithoutStart(t *testing.T) {
	s := NewSampler(&fakeProvider{readings: []reading{{}}})
	s.Stop()
}

func TestSamplerOnSampleCallback(t *testing.T) {
	provider := &fakeProvider{readings: []reading{
		{stats: Stats{CPUTime: 10 * time.Millisecond, RSSBytes: 4096}},
		{stats: Stats{CPUTime: 20 * time.Millisecond, RSSBytes: 8192}},
	}}

	var mu sync.Mutex
	var seen []models.ResourceSample
	s := NewSampler(provider,
		WithInterval(10*time.Millisecond),
		WithOnSample(func(sm models.ResourceSample) {
			mu.Lock()
			seen = append(seen, sm)
			mu.Unlock()
		}))

	s.Start(context.Background(), 1234)
	defer s.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestSummarize(t *testing.T) {
	t.Run("empty gives nil", func(t *testing.T) {
		assert.Nil(t, Summarize(nil))
	})

	t.Run("averages and maxima", func(t *testing.T) {
		sum := Summarize([]models.ResourceSample{
			{CPUPercent: 10, RSSBytes: 100},
			{CPUPercent: 30, RSSBytes: 300},
			{CPUPercent: 20, RSSBytes: 200},
		})
		require.NotNil(t, sum)
		assert.Equal(t, 3, sum.Samples)
		assert.InDelta(t, 20.0, sum.AvgCPUPercent, 0.0001)
		assert.InDelta(t, 30.0, sum.MaxCPUPercent, 0.0001)
		assert.Equal(t, uint64(200), sum.AvgRSSBytes)
		assert.Equal(t, uint64(300), sum.MaxRSSBytes)
	})
}

func TestSummarizeSince(t *testing.T) {
	s := NewSampler(&fakeProvider{readings: []reading{{}}}, WithRingSize(8))
	for i := 1; i <= 5; i++ {
		s.push(models.ResourceSample{TimestampMs: int64(i * 100), CPUPercent: float64(i)})
	}

	sum := s.SummarizeSince(300)
	require.NotNil(t, sum)
	assert.Equal(t, 3, sum.Samples)
	assert.InDelta(t, 4.0, sum.AvgCPUPercent, 0.0001)

	assert.Nil(t, s.SummarizeSince(10_000))
}
