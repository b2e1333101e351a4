// Package report builds statistics and exports over the stored sessions.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dice-recorder/recorder"
	"dice-recorder/segment"
)

// ErrNoData is returned by exports when the store holds no sessions.
var ErrNoData = errors.New("no data to export")

const (
	chunkPreview = 10
	recentLimit  = 20
)

// Source is the read side of the store. *recorder.Store implements it.
type Source interface {
	Count(ctx context.Context) (int64, error)
	First(ctx context.Context) (*recorder.Session, error)
	Last(ctx context.Context) (*recorder.Session, error)
	Recent(ctx context.Context, n int) ([]recorder.Session, error)
	FindDuplicates(ctx context.Context) ([]recorder.Duplicate, error)
	ScanOrdered(ctx context.Context) ([]string, error)
	ListOrdered(ctx context.Context) ([]recorder.Session, error)
	LastIngestedAt(ctx context.Context) (time.Time, error)
	Scheme() segment.Scheme
}

type Format string

const (
	FormatText Format = "txt"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText, "text", "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want txt or json)", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

// Filename names a full export taken at t, e.g. sessions_20251004_153000.txt.
func Filename(f Format, t time.Time) string {
	return fmt.Sprintf("sessions_%s.%s", t.Format("20060102_150405"), f)
}

// ArchiveFilename names a chunk archive taken at t.
func ArchiveFilename(f Format, t time.Time) string {
	return fmt.Sprintf("sessions_continuous_%s_%s.zip", f, t.Format("20060102_150405"))
}

type Reporter struct {
	src       Source
	now       func() time.Time
	nextRun   func() time.Time
	lastCycle func() (recorder.CycleResult, bool)
}

type Option func(*Reporter)

// WithNextRun reports the scheduler's next run in statistics.
func WithNextRun(f func() time.Time) Option {
	return func(r *Reporter) { r.nextRun = f }
}

// WithLastCycle reports the most recent ingestion cycle in statistics.
func WithLastCycle(f func() (recorder.CycleResult, bool)) Option {
	return func(r *Reporter) { r.lastCycle = f }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

func New(src Source, opts ...Option) *Reporter {
	r := &Reporter{src: src, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Chunks segments every stored identifier into contiguous runs.
func (r *Reporter) Chunks(ctx context.Context) ([]segment.Chunk, error) {
	ids, err := r.src.ScanOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan ids: %w", err)
	}
	return segment.Chunks(ids, r.src.Scheme())
}
