package recorder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-recorder/segment"
)

func TestParse_ResultStringShapes(t *testing.T) {
	p := NewParser(ParserConfig{})
	for _, raw := range []RawRecord{
		`{"issueId":"101","result":"4:5:6"}`,
		`{"issueId":"101","result":"4,5,6"}`,
		`{"issueId":"101","result":"4:5,6"}`,
		`{"issue_id":"101","result":[4,5,6]}`,
		`{"issue_id":101,"result":["4","5","6"]}`,
		`{"issueId":"101","dice":[4,5,6],"result":"1:1:1"}`,
		`{"issueId":"101","result":"4 5 6 extra 1"}`,
	} {
		s, err := p.Parse(raw)
		require.NoError(t, err, string(raw))
		assert.Equal(t, [3]int{4, 5, 6}, s.Dice(), string(raw))
		assert.Equal(t, "101", s.IssueID)
		assert.Equal(t, int64(101), s.Seq)
		assert.Equal(t, 15, s.Point)
		assert.Equal(t, OutcomeHigh, s.Outcome)
		assert.Equal(t, string(raw), s.Raw)
	}
}

func TestParse_Skips(t *testing.T) {
	p := NewParser(ParserConfig{})
	for _, raw := range []RawRecord{
		`{"issueId":"1","result":"4:5"}`,
		`{"issueId":"1","result":"45"}`,
		`{"issueId":"1","result":[4,5]}`,
		`{"issueId":"1","result":[4,5,6,1]}`,
		`{"issueId":"1","result":[4,5.5,6]}`,
		`{"issueId":"1","result":""}`,
		`{"issueId":"1"}`,
		`{"result":"1:2:3"}`,
		`{"issueId":"  ","result":"1:2:3"}`,
		`{"issueId":"abc","result":"1:2:3"}`,
		`{"issueId":"1","result":"7:1:1"}`,
		`{"issueId":"1","result":"0:1:1"}`,
		`[1,2,3]`,
		`not json`,
	} {
		_, err := p.Parse(raw)
		require.Error(t, err, string(raw))
		assert.True(t, errors.Is(err, ErrParse), string(raw))
	}
}

func TestParse_OutcomeThreshold(t *testing.T) {
	p := NewParser(ParserConfig{})

	s, err := p.Parse(`{"issueId":"1","result":"3:4:4"}`)
	require.NoError(t, err)
	assert.Equal(t, 11, s.Point)
	assert.Equal(t, OutcomeHigh, s.Outcome)

	s, err = p.Parse(`{"issueId":"2","result":"3:3:4"}`)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Point)
	assert.Equal(t, OutcomeLow, s.Outcome)
}

func TestParse_UpstreamOutcomeWins(t *testing.T) {
	p := NewParser(ParserConfig{})

	s, err := p.Parse(`{"issueId":"1","result":"1:1:1","resultText":"Big"}`)
	require.NoError(t, err)
	assert.Equal(t, "Big", s.Outcome)

	s, err = p.Parse(`{"issueId":"1","result":"1:1:1","resultText":"  "}`)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLow, s.Outcome)

	for _, label := range []string{`Big|Small`, `Big\nSmall`, `Big\r`} {
		s, err = p.Parse(RawRecord(`{"issueId":"1","result":"6:6:6","resultText":"` + label + `"}`))
		require.NoError(t, err)
		assert.Equal(t, OutcomeHigh, s.Outcome, "label %q must not reach the flat export", label)
	}
}

func TestParse_DatedScheme(t *testing.T) {
	p := NewParser(ParserConfig{Scheme: segment.DatedScheme{}})

	s, err := p.Parse(`{"issueId":"PK3_60S-251004-0569","result":"2:2:2"}`)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-04", s.Partition)
	assert.Equal(t, int64(569), s.Seq)

	_, err = p.Parse(`{"issueId":"12345","result":"2:2:2"}`)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParse_CustomKeys(t *testing.T) {
	p := NewParser(ParserConfig{IDKeys: []string{"round.no"}, ResultKeys: []string{"round.faces"}})
	s, err := p.Parse(`{"round":{"no":"9","faces":"6-6-6"}}`)
	require.NoError(t, err)
	assert.Equal(t, "9", s.IssueID)
	assert.Equal(t, 18, s.Point)
}

func TestOutcomeForPoint(t *testing.T) {
	assert.Equal(t, OutcomeLow, OutcomeForPoint(3))
	assert.Equal(t, OutcomeLow, OutcomeForPoint(10))
	assert.Equal(t, OutcomeHigh, OutcomeForPoint(11))
	assert.Equal(t, OutcomeHigh, OutcomeForPoint(18))
}
