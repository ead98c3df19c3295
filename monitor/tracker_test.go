package monitor

import (
	"context"
	"testing"
	"time"

	"optionflow/logger"
	"optionflow/models"
)

// fakeHistory serves canned store answers to the tracker.
type fakeHistory struct {
	prevVolume map[string]int64
	prevOI     map[string][2]int64
	today      map[string]int64
	calls      int
}

func (f *fakeHistory) PreviousVolume(ctx context.Context, code, day string, current int64) (int64, error) {
	f.calls++
	return f.prevVolume[code], nil
}

func (f *fakeHistory) PreviousOpenInterest(ctx context.Context, code, day string) (int64, int64, error) {
	pair := f.prevOI[code]
	return pair[0], pair[1], nil
}

func (f *fakeHistory) TodayVolumes(ctx context.Context, market, day string) (map[string]int64, error) {
	return f.today, nil
}

func hkLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Hong_Kong")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func snapshotAt(code string, volume int64, ts time.Time) models.OptionSnapshot {
	return models.OptionSnapshot{OptionCode: code, Volume: volume, Timestamp: ts}
}

func TestObserveFirstSeenReportsFullVolume(t *testing.T) {
	loc := hkLocation(t)
	tracker := NewVolumeTracker("HK", loc, &fakeHistory{}, logger.Logger())

	now := time.Now().In(loc)
	deltas, err := tracker.Observe(context.Background(), snapshotAt("HK.TCH250330C360000", 500, now))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if deltas.VolumeDelta != 500 {
		t.Errorf("VolumeDelta = %d, want full volume 500", deltas.VolumeDelta)
	}
	if deltas.PreviousVolume != 0 {
		t.Errorf("PreviousVolume = %d, want 0", deltas.PreviousVolume)
	}
}

func TestObserveDeltaAcrossCycles(t *testing.T) {
	loc := hkLocation(t)
	tracker := NewVolumeTracker("HK", loc, &fakeHistory{}, logger.Logger())
	ctx := context.Background()
	code := "HK.TCH250330C360000"
	now := time.Now().In(loc)

	if _, err := tracker.Observe(ctx, snapshotAt(code, 500, now)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	deltas, err := tracker.Observe(ctx, snapshotAt(code, 620, now.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if deltas.VolumeDelta != 120 {
		t.Errorf("VolumeDelta = %d, want 120", deltas.VolumeDelta)
	}
	if deltas.PreviousVolume != 500 {
		t.Errorf("PreviousVolume = %d, want 500", deltas.PreviousVolume)
	}
}

func TestObserveHydratesFromStore(t *testing.T) {
	loc := hkLocation(t)
	code := "HK.TCH250330C360000"
	history := &fakeHistory{
		prevVolume: map[string]int64{code: 150},
		prevOI:     map[string][2]int64{code: {1000, 400}},
	}
	tracker := NewVolumeTracker("HK", loc, history, logger.Logger())

	now := time.Now().In(loc)
	snap := snapshotAt(code, 200, now)
	snap.OpenInterest = 1100
	snap.NetOpenInterest = 380

	deltas, err := tracker.Observe(context.Background(), snap)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if deltas.VolumeDelta != 50 {
		t.Errorf("VolumeDelta = %d, want 50 against stored baseline", deltas.VolumeDelta)
	}
	if deltas.OpenInterestDelta != 100 {
		t.Errorf("OpenInterestDelta = %d, want 100", deltas.OpenInterestDelta)
	}
	if deltas.NetOpenInterestDelta != -20 {
		t.Errorf("NetOpenInterestDelta = %d, want -20", deltas.NetOpenInterestDelta)
	}
	if history.calls != 1 {
		t.Errorf("store hydration calls = %d, want 1", history.calls)
	}

	// A second observation must not hit the store again.
	if _, err := tracker.Observe(context.Background(), snapshotAt(code, 220, now.Add(time.Minute))); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if history.calls != 1 {
		t.Errorf("store hydration calls after warm entry = %d, want 1", history.calls)
	}
}

func TestObserveDayRollover(t *testing.T) {
	loc := hkLocation(t)
	code := "HK.TCH250330C360000"
	history := &fakeHistory{}
	tracker := NewVolumeTracker("HK", loc, history, logger.Logger())
	ctx := context.Background()

	yesterday := time.Date(2025, 3, 3, 15, 0, 0, 0, loc)
	today := time.Date(2025, 3, 4, 9, 45, 0, 0, loc)

	if _, err := tracker.Observe(ctx, snapshotAt(code, 5000, yesterday)); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	deltas, err := tracker.Observe(ctx, snapshotAt(code, 80, today))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if deltas.VolumeDelta != 80 {
		t.Errorf("VolumeDelta after rollover = %d, want fresh 80", deltas.VolumeDelta)
	}
	if deltas.PreviousVolume != 0 {
		t.Errorf("PreviousVolume after rollover = %d, want 0", deltas.PreviousVolume)
	}
	if history.calls != 2 {
		t.Errorf("hydration calls = %d, want 2 (one per day)", history.calls)
	}
}

func TestWarmUpSeedsEntries(t *testing.T) {
	loc := hkLocation(t)
	code := "HK.TCH250330C360000"
	history := &fakeHistory{today: map[string]int64{code: 900}}
	tracker := NewVolumeTracker("HK", loc, history, logger.Logger())
	ctx := context.Background()

	if err := tracker.WarmUp(ctx); err != nil {
		t.Fatalf("WarmUp: %v", err)
	}
	if tracker.Size() != 1 {
		t.Fatalf("Size = %d, want 1", tracker.Size())
	}

	deltas, err := tracker.Observe(ctx, snapshotAt(code, 950, time.Now().In(loc)))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if deltas.VolumeDelta != 50 {
		t.Errorf("VolumeDelta = %d, want 50 against warmed baseline", deltas.VolumeDelta)
	}
	if history.calls != 0 {
		t.Errorf("hydration calls = %d, want 0 after warm up", history.calls)
	}
}
