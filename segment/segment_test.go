package segment

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intIDs(ns ...int) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = strconv.Itoa(n)
	}
	return out
}

func chunkIDs(chunks []Chunk) [][]string {
	out := make([][]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.IDs
	}
	return out
}

func TestChunks_Example(t *testing.T) {
	chunks, err := Chunks(intIDs(1, 2, 3, 5, 6, 8), IntegerScheme{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"5", "6"}, {"8"}}, chunkIDs(chunks))
	assert.Equal(t, "1", chunks[0].Start())
	assert.Equal(t, "3", chunks[0].End())
	assert.Equal(t, 3, chunks[0].Len())
}

func TestChunks_EdgeCases(t *testing.T) {
	chunks, err := Chunks(nil, IntegerScheme{})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = Chunks(intIDs(42), IntegerScheme{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"42"}}, chunkIDs(chunks))

	chunks, err = Chunks(intIDs(7, 5, 6, 4), IntegerScheme{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"4", "5", "6", "7"}}, chunkIDs(chunks))
}

func TestChunks_NumericNotTextOrder(t *testing.T) {
	chunks, err := Chunks([]string{"10", "9", "11"}, IntegerScheme{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"9", "10", "11"}}, chunkIDs(chunks))
}

func TestChunks_InvalidID(t *testing.T) {
	_, err := Chunks([]string{"1", "abc"}, IntegerScheme{})
	require.Error(t, err)
}

func TestChunks_Completeness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		set := map[int]bool{}
		for i := 0; i < rng.Intn(200); i++ {
			set[rng.Intn(300)] = true
		}
		var ids []string
		for n := range set {
			ids = append(ids, strconv.Itoa(n))
		}

		chunks, err := Chunks(ids, IntegerScheme{})
		require.NoError(t, err)

		seen := map[int]bool{}
		for k, c := range chunks {
			require.NotEmpty(t, c.IDs)
			for i, id := range c.IDs {
				n, _ := strconv.Atoi(id)
				require.False(t, seen[n], "id %d appears twice", n)
				seen[n] = true
				if i > 0 {
					p, _ := strconv.Atoi(c.IDs[i-1])
					require.Equal(t, p+1, n)
				}
			}
			if k > 0 {
				prevEnd, _ := strconv.Atoi(chunks[k-1].End())
				start, _ := strconv.Atoi(c.Start())
				require.NotEqual(t, prevEnd, start-1, "chunks %d and %d are mergeable", k-1, k)
			}
		}
		require.Equal(t, set, seen)
	}
}

func TestGaps_Example(t *testing.T) {
	gaps, err := Gaps(intIDs(1, 2, 3, 5, 6, 8), IntegerScheme{})
	require.NoError(t, err)
	assert.Equal(t, []Gap{{Start: 4, End: 4, Size: 1}, {Start: 7, End: 7, Size: 1}}, gaps)

	gaps, err = Gaps(intIDs(1, 10), IntegerScheme{})
	require.NoError(t, err)
	assert.Equal(t, []Gap{{Start: 2, End: 9, Size: 8}}, gaps)

	gaps, err = Gaps(intIDs(1, 2, 3), IntegerScheme{})
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestDatedScheme_Key(t *testing.T) {
	k, err := DatedScheme{}.Key("PK3_60S-251004-0569")
	require.NoError(t, err)
	assert.Equal(t, Key{Partition: "2025-10-04", Seq: 569}, k)

	for _, bad := range []string{"", "251004-0569", "PK3-2510-0569", "PK3-251304-0001", "PK3-251004-", "PK3-251004-12a"} {
		_, err := DatedScheme{}.Key(bad)
		assert.Error(t, err, bad)
	}
}

func TestChunks_DatedNeverMergeAcrossDays(t *testing.T) {
	ids := []string{
		"PK3_60S-251005-0001",
		"PK3_60S-251004-1439",
		"PK3_60S-251004-1440",
		"PK3_60S-251005-0002",
		"PK3_60S-251004-0010",
		"PK3_60S-251005-1441",
	}
	chunks, err := Chunks(ids, DatedScheme{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"PK3_60S-251004-0010"},
		{"PK3_60S-251004-1439", "PK3_60S-251004-1440"},
		{"PK3_60S-251005-0001", "PK3_60S-251005-0002"},
		{"PK3_60S-251005-1441"},
	}, chunkIDs(chunks))
	assert.Equal(t, "2025-10-04", chunks[0].Partition)
	assert.Equal(t, "2025-10-05", chunks[3].Partition)
}

func TestGaps_DatedPerDay(t *testing.T) {
	ids := []string{"G-251004-0001", "G-251004-0004", "G-251005-0002"}
	gaps, err := Gaps(ids, DatedScheme{})
	require.NoError(t, err)
	assert.Equal(t, []Gap{{Partition: "2025-10-04", Start: 2, End: 3, Size: 2}}, gaps)
}

func TestSchemeByName(t *testing.T) {
	s, err := SchemeByName("")
	require.NoError(t, err)
	assert.Equal(t, SchemeInteger, s.Name())

	s, err = SchemeByName("Dated")
	require.NoError(t, err)
	assert.Equal(t, SchemeDated, s.Name())

	_, err = SchemeByName("uuid")
	assert.Error(t, err)
}

func TestName(t *testing.T) {
	assert.Equal(t, []string{"data1", "data2", "data10"}, []string{Name(0), Name(1), Name(9)})
}
