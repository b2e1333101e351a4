// Package segment partitions an ordered set of session identifiers into
// maximal runs of consecutive identifiers (chunks) and the gaps between them.
//
// Segmentation always runs against the full identifier set: sorting is
// O(n log n) and the boundary scan is O(n). Partitions (calendar days for the
// dated scheme) are never merged, even when sequence numbers would continue
// across a day boundary.
package segment

import (
	"fmt"
	"sort"
)

// Chunk is a maximal run of strictly consecutive identifiers within a single
// partition. IDs is never empty.
type Chunk struct {
	Partition string
	IDs       []string
}

func (c Chunk) Start() string { return c.IDs[0] }
func (c Chunk) End() string   { return c.IDs[len(c.IDs)-1] }
func (c Chunk) Len() int      { return len(c.IDs) }

// Name returns the export name of the chunk at position i (0-based): data1, data2, ...
func Name(i int) string {
	return fmt.Sprintf("data%d", i+1)
}

// Gap is a missing range of sequence numbers between two stored identifiers
// of the same partition. Start and End are inclusive.
type Gap struct {
	Partition string `json:"partition,omitempty"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Size      int64  `json:"size"`
}

type keyed struct {
	id  string
	key Key
}

func sortKeyed(ids []string, scheme Scheme) ([]keyed, error) {
	out := make([]keyed, 0, len(ids))
	for _, id := range ids {
		k, err := scheme.Key(id)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", scheme.Name(), err)
		}
		out = append(out, keyed{id: id, key: k})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].key != out[j].key {
			return out[i].key.Less(out[j].key)
		}
		return out[i].id < out[j].id
	})
	return out, nil
}

func consecutive(prev, cur Key) bool {
	return prev.Partition == cur.Partition && cur.Seq == prev.Seq+1
}

// Chunks splits ids into maximal consecutive runs. The input does not need to
// be sorted. Chunks are ordered by partition, then by position within it.
func Chunks(ids []string, scheme Scheme) ([]Chunk, error) {
	sorted, err := sortKeyed(ids, scheme)
	if err != nil {
		return nil, err
	}
	if len(sorted) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	cur := Chunk{Partition: sorted[0].key.Partition, IDs: []string{sorted[0].id}}
	for i := 1; i < len(sorted); i++ {
		if consecutive(sorted[i-1].key, sorted[i].key) {
			cur.IDs = append(cur.IDs, sorted[i].id)
			continue
		}
		chunks = append(chunks, cur)
		cur = Chunk{Partition: sorted[i].key.Partition, IDs: []string{sorted[i].id}}
	}
	return append(chunks, cur), nil
}

// Gaps reports one Gap per break of more than one between neighbouring
// sequence numbers inside a partition.
func Gaps(ids []string, scheme Scheme) ([]Gap, error) {
	sorted, err := sortKeyed(ids, scheme)
	if err != nil {
		return nil, err
	}
	var gaps []Gap
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1].key, sorted[i].key
		if prev.Partition != cur.Partition {
			continue
		}
		if diff := cur.Seq - prev.Seq; diff > 1 {
			gaps = append(gaps, Gap{
				Partition: cur.Partition,
				Start:     prev.Seq + 1,
				End:       cur.Seq - 1,
				Size:      diff - 1,
			})
		}
	}
	return gaps, nil
}
