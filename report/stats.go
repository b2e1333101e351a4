package report

import (
	"context"
	"fmt"
	"time"

	"dice-recorder/recorder"
	"dice-recorder/segment"
)

// SessionView is the public shape of a session in statistics and JSON exports.
type SessionView struct {
	ID     string `json:"id"`
	Dice1  int    `json:"dice1"`
	Dice2  int    `json:"dice2"`
	Dice3  int    `json:"dice3"`
	Point  int    `json:"point"`
	Result string `json:"result"`
}

func View(s recorder.Session) SessionView {
	return SessionView{
		ID:     s.IssueID,
		Dice1:  s.Dice1,
		Dice2:  s.Dice2,
		Dice3:  s.Dice3,
		Point:  s.Point,
		Result: s.Outcome,
	}
}

func views(sessions []recorder.Session) []SessionView {
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, View(s))
	}
	return out
}

type ChunkInfo struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
	Count int    `json:"count"`
}

type Statistics struct {
	TotalSessions  int64                 `json:"total_sessions"`
	FirstSession   *SessionView          `json:"first_session"`
	LastSession    *SessionView          `json:"last_session"`
	Duplicates     []recorder.Duplicate  `json:"duplicate_sessions"`
	Gaps           []segment.Gap         `json:"gaps"`
	ChunkCount     int                   `json:"continuous_chunks"`
	Chunks         []ChunkInfo           `json:"chunks_info"`
	Recent         []SessionView         `json:"recent_sessions"`
	LastUpdated    time.Time             `json:"last_updated"`
	LastIngestedAt *time.Time            `json:"last_ingested_at,omitempty"`
	NextFetch      *time.Time            `json:"next_fetch,omitempty"`
	LastCycle      *recorder.CycleResult `json:"last_cycle,omitempty"`
}

// snapshotter is implemented by sources that can group reads into one
// consistent view of the table.
type snapshotter interface {
	Snapshot(ctx context.Context, fn func(tx *recorder.Store) error) error
}

// Statistics summarizes the store. Chunks and gaps come from a single ordered
// scan; only the first ten chunks are listed. When the source supports it,
// every read sees the same snapshot.
func (r *Reporter) Statistics(ctx context.Context) (Statistics, error) {
	snap, ok := r.src.(snapshotter)
	if !ok {
		return r.statistics(ctx, r.src)
	}
	var st Statistics
	err := snap.Snapshot(ctx, func(tx *recorder.Store) error {
		var err error
		st, err = r.statistics(ctx, tx)
		return err
	})
	return st, err
}

func (r *Reporter) statistics(ctx context.Context, src Source) (Statistics, error) {
	st := Statistics{
		Duplicates:  []recorder.Duplicate{},
		Gaps:        []segment.Gap{},
		Chunks:      []ChunkInfo{},
		Recent:      []SessionView{},
		LastUpdated: r.now().UTC(),
	}

	var err error
	if st.TotalSessions, err = src.Count(ctx); err != nil {
		return st, fmt.Errorf("count: %w", err)
	}
	first, err := src.First(ctx)
	if err != nil {
		return st, fmt.Errorf("first session: %w", err)
	}
	if first != nil {
		v := View(*first)
		st.FirstSession = &v
	}
	last, err := src.Last(ctx)
	if err != nil {
		return st, fmt.Errorf("last session: %w", err)
	}
	if last != nil {
		v := View(*last)
		st.LastSession = &v
	}

	dups, err := src.FindDuplicates(ctx)
	if err != nil {
		return st, fmt.Errorf("duplicates: %w", err)
	}
	st.Duplicates = append(st.Duplicates, dups...)

	ids, err := src.ScanOrdered(ctx)
	if err != nil {
		return st, fmt.Errorf("scan ids: %w", err)
	}
	chunks, err := segment.Chunks(ids, src.Scheme())
	if err != nil {
		return st, err
	}
	gaps, err := segment.Gaps(ids, src.Scheme())
	if err != nil {
		return st, err
	}
	st.Gaps = append(st.Gaps, gaps...)
	st.ChunkCount = len(chunks)
	for i, c := range chunks {
		if i == chunkPreview {
			break
		}
		st.Chunks = append(st.Chunks, ChunkInfo{Name: segment.Name(i), Start: c.Start(), End: c.End(), Count: c.Len()})
	}

	recent, err := src.Recent(ctx, recentLimit)
	if err != nil {
		return st, fmt.Errorf("recent sessions: %w", err)
	}
	st.Recent = views(recent)

	at, err := src.LastIngestedAt(ctx)
	if err != nil {
		return st, fmt.Errorf("last ingested: %w", err)
	}
	if !at.IsZero() {
		at = at.UTC()
		st.LastIngestedAt = &at
	}

	if r.nextRun != nil {
		if next := r.nextRun(); !next.IsZero() {
			next = next.UTC()
			st.NextFetch = &next
		}
	}
	if r.lastCycle != nil {
		if res, ok := r.lastCycle(); ok {
			st.LastCycle = &res
		}
	}
	return st, nil
}
