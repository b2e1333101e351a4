package segment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key is the ordering key of a session identifier. Identifiers are ordered by
// Partition first, then by Seq. Runs never cross partitions.
type Key struct {
	Partition string
	Seq       int64
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	if k.Partition != o.Partition {
		return k.Partition < o.Partition
	}
	return k.Seq < o.Seq
}

// Scheme maps an identifier to its ordering key.
type Scheme interface {
	Name() string
	Key(id string) (Key, error)
}

const (
	SchemeInteger = "integer"
	SchemeDated   = "dated"
)

// SchemeByName resolves a configured scheme name.
func SchemeByName(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SchemeInteger, "int":
		return IntegerScheme{}, nil
	case SchemeDated, "date":
		return DatedScheme{}, nil
	default:
		return nil, fmt.Errorf("unknown id scheme %q", name)
	}
}

// IntegerScheme treats identifiers as plain integers in one global partition.
type IntegerScheme struct{}

func (IntegerScheme) Name() string { return SchemeInteger }

func (IntegerScheme) Key(id string) (Key, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return Key{}, fmt.Errorf("empty id")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("id %q is not an integer", id)
	}
	return Key{Seq: n}, nil
}

// DatedScheme handles identifiers of the form <game>-<YYMMDD>-<sequence>,
// e.g. PK3_60S-251004-0569. The partition is the embedded date (2006-01-02
// layout so partitions sort chronologically) and Seq is the sequence number.
type DatedScheme struct{}

func (DatedScheme) Name() string { return SchemeDated }

func (DatedScheme) Key(id string) (Key, error) {
	s := strings.TrimSpace(id)
	last := strings.LastIndex(s, "-")
	if last <= 0 {
		return Key{}, fmt.Errorf("id %q: want <game>-<YYMMDD>-<sequence>", id)
	}
	mid := strings.LastIndex(s[:last], "-")
	if mid <= 0 {
		return Key{}, fmt.Errorf("id %q: want <game>-<YYMMDD>-<sequence>", id)
	}
	datePart := s[mid+1 : last]
	seqPart := s[last+1:]
	if len(datePart) != 6 {
		return Key{}, fmt.Errorf("id %q: date %q is not YYMMDD", id, datePart)
	}
	day, err := time.Parse("060102", datePart)
	if err != nil {
		return Key{}, fmt.Errorf("id %q: date %q: %v", id, datePart, err)
	}
	if seqPart == "" || strings.TrimLeft(seqPart, "0123456789") != "" {
		return Key{}, fmt.Errorf("id %q: sequence %q is not numeric", id, seqPart)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("id %q: sequence %q: %v", id, seqPart, err)
	}
	return Key{Partition: day.Format("2006-01-02"), Seq: seq}, nil
}
