package monitor

import (
	"context"
	"sync"
	"time"

	"optionflow/logger"
	"optionflow/models"
)

// History is the slice of the store the tracker hydrates from.
type History interface {
	PreviousVolume(ctx context.Context, optionCode, tradeDate string, currentVolume int64) (int64, error)
	PreviousOpenInterest(ctx context.Context, optionCode, tradeDate string) (int64, int64, error)
	TodayVolumes(ctx context.Context, market, tradeDate string) (map[string]int64, error)
}

// Deltas is what changed for a contract since its previous observation on
// the same trading day.
type Deltas struct {
	PreviousVolume       int64
	VolumeDelta          int64
	OpenInterestDelta    int64
	NetOpenInterestDelta int64
}

type volumeEntry struct {
	dayKey string
	volume int64
	oi     int64
	netOI  int64
	hasOI  bool
}

// VolumeTracker remembers the last observed cumulative volume and open
// interest per contract, keyed by trading day. Entries from an earlier day
// are invalidated on access so an overnight process never reports a
// cross-day delta. Cold entries hydrate lazily from the store, which makes
// restarts mid-session seamless.
type VolumeTracker struct {
	mu      sync.Mutex
	entries map[string]*volumeEntry
	history History
	market  string
	loc     *time.Location
	log     *logger.Entry
}

// NewVolumeTracker creates a tracker for one market.
func NewVolumeTracker(market string, loc *time.Location, history History, log *logger.Log) *VolumeTracker {
	return &VolumeTracker{
		entries: make(map[string]*volumeEntry),
		history: history,
		market:  market,
		loc:     loc,
		log:     log.WithComponent("volume_tracker").WithFields(logger.Fields{"market": market}),
	}
}

// WarmUp seeds the tracker with the latest stored volume per contract for
// the current trading day.
func (t *VolumeTracker) WarmUp(ctx context.Context) error {
	day := models.TradeDay(time.Now(), t.loc)
	volumes, err := t.history.TodayVolumes(ctx, t.market, day)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for code, volume := range volumes {
		t.entries[code] = &volumeEntry{dayKey: day, volume: volume}
	}
	t.log.WithFields(logger.Fields{"contracts": len(volumes), "trade_date": day}).Info("volume tracker warmed up")
	return nil
}

// Observe records a snapshot and returns the deltas against the previous
// observation of the same contract on the same trading day. A contract with
// no history reports its full volume as the delta.
func (t *VolumeTracker) Observe(ctx context.Context, snap models.OptionSnapshot) (Deltas, error) {
	day := models.TradeDay(snap.Timestamp, t.loc)

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[snap.OptionCode]
	if !ok || entry.dayKey != day {
		hydrated, err := t.hydrate(ctx, snap, day)
		if err != nil {
			return Deltas{}, err
		}
		entry = hydrated
		t.entries[snap.OptionCode] = entry
	}

	d := Deltas{
		PreviousVolume: entry.volume,
		VolumeDelta:    snap.Volume - entry.volume,
	}
	if entry.hasOI {
		d.OpenInterestDelta = snap.OpenInterest - entry.oi
		d.NetOpenInterestDelta = snap.NetOpenInterest - entry.netOI
	}

	entry.volume = snap.Volume
	entry.oi = snap.OpenInterest
	entry.netOI = snap.NetOpenInterest
	entry.hasOI = true
	return d, nil
}

// hydrate builds the day's baseline for a contract from the store. Called
// with the mutex held.
func (t *VolumeTracker) hydrate(ctx context.Context, snap models.OptionSnapshot, day string) (*volumeEntry, error) {
	prevVolume, err := t.history.PreviousVolume(ctx, snap.OptionCode, day, snap.Volume)
	if err != nil {
		return nil, err
	}
	prevOI, prevNetOI, err := t.history.PreviousOpenInterest(ctx, snap.OptionCode, day)
	if err != nil {
		return nil, err
	}

	entry := &volumeEntry{
		dayKey: day,
		volume: prevVolume,
	}
	if prevOI != 0 || prevNetOI != 0 {
		entry.oi = prevOI
		entry.netOI = prevNetOI
		entry.hasOI = true
	}
	return entry, nil
}

// Size returns the number of tracked contracts.
func (t *VolumeTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
