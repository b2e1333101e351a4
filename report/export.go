package report

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"dice-recorder/recorder"
	"dice-recorder/segment"
)

// WriteFlat writes one line per session: id|d1:d2:d3|point|outcome.
func WriteFlat(w io.Writer, sessions []recorder.Session) error {
	bw := bufio.NewWriter(w)
	for _, s := range sessions {
		if _, err := fmt.Fprintf(bw, "%s|%s|%d|%s\n", s.IssueID, s.DiceString(), s.Point, s.Outcome); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteJSON writes an indented array of SessionView objects.
func WriteJSON(w io.Writer, sessions []recorder.Session) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(views(sessions))
}

func write(w io.Writer, f Format, sessions []recorder.Session) error {
	if f == FormatJSON {
		return WriteJSON(w, sessions)
	}
	return WriteFlat(w, sessions)
}

// WriteFull dumps every session in ordering-key order.
func (r *Reporter) WriteFull(ctx context.Context, w io.Writer, f Format) error {
	sessions, err := r.src.ListOrdered(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return ErrNoData
	}
	return write(w, f, sessions)
}

// WriteChunkArchive writes a zip with one data<N> file per contiguous chunk,
// in chunk order.
func (r *Reporter) WriteChunkArchive(ctx context.Context, w io.Writer, f Format) error {
	sessions, err := r.src.ListOrdered(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return ErrNoData
	}

	byID := make(map[string]recorder.Session, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		byID[s.IssueID] = s
		ids = append(ids, s.IssueID)
	}
	chunks, err := segment.Chunks(ids, r.src.Scheme())
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	modified := r.now()
	for i, c := range chunks {
		rows := make([]recorder.Session, 0, c.Len())
		for _, id := range c.IDs {
			rows = append(rows, byID[id])
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     fmt.Sprintf("%s.%s", segment.Name(i), f),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", segment.Name(i), err)
		}
		if err := write(fw, f, rows); err != nil {
			return fmt.Errorf("write %s: %w", segment.Name(i), err)
		}
	}
	return zw.Close()
}
