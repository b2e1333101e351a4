package recorder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"dice-recorder/segment"
)

// RawRecord is one upstream record as JSON text.
type RawRecord string

// ParserConfig selects the upstream field names and validation bounds. Keys
// are gjson paths, tried in order.
type ParserConfig struct {
	IDKeys      []string
	DiceKeys    []string
	ResultKeys  []string
	OutcomeKeys []string
	DiceMin     int
	DiceMax     int
	Scheme      segment.Scheme
}

var (
	defaultIDKeys      = []string{"issueId", "issue_id"}
	defaultDiceKeys    = []string{"dice", "dices"}
	defaultResultKeys  = []string{"result"}
	defaultOutcomeKeys = []string{"resultText", "result_text", "outcome"}
)

// Parser turns raw upstream records into canonical sessions.
type Parser struct {
	cfg ParserConfig
}

func NewParser(cfg ParserConfig) *Parser {
	if len(cfg.IDKeys) == 0 {
		cfg.IDKeys = defaultIDKeys
	}
	if len(cfg.DiceKeys) == 0 {
		cfg.DiceKeys = defaultDiceKeys
	}
	if len(cfg.ResultKeys) == 0 {
		cfg.ResultKeys = defaultResultKeys
	}
	if len(cfg.OutcomeKeys) == 0 {
		cfg.OutcomeKeys = defaultOutcomeKeys
	}
	if cfg.DiceMin == 0 && cfg.DiceMax == 0 {
		cfg.DiceMin, cfg.DiceMax = 1, 6
	}
	if cfg.Scheme == nil {
		cfg.Scheme = segment.IntegerScheme{}
	}
	return &Parser{cfg: cfg}
}

// Parse normalizes one record. Every failure wraps ErrParse: the caller skips
// the record and carries on with the batch.
func (p *Parser) Parse(raw RawRecord) (Session, error) {
	item := gjson.Parse(string(raw))
	if !item.IsObject() {
		return Session{}, fmt.Errorf("%w: record is not a JSON object", ErrParse)
	}

	id := extractID(item, p.cfg.IDKeys)
	if id == "" {
		return Session{}, fmt.Errorf("%w: missing identifier", ErrParse)
	}
	key, err := p.cfg.Scheme.Key(id)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	dice, err := p.extractDice(item)
	if err != nil {
		return Session{}, fmt.Errorf("%w: id %s: %v", ErrParse, id, err)
	}
	point := dice[0] + dice[1] + dice[2]

	return Session{
		IssueID:   id,
		Partition: key.Partition,
		Seq:       key.Seq,
		Dice1:     dice[0],
		Dice2:     dice[1],
		Dice3:     dice[2],
		Point:     point,
		Outcome:   ExtractOutcome(item, p.cfg.OutcomeKeys, point),
		Raw:       item.Raw,
	}, nil
}

func extractID(item gjson.Result, keys []string) string {
	for _, key := range keys {
		v := item.Get(key)
		switch v.Type {
		case gjson.String:
			if s := strings.TrimSpace(v.Str); s != "" {
				return s
			}
		case gjson.Number:
			if !strings.ContainsAny(v.Raw, ".eE") {
				return v.Raw
			}
		}
	}
	return ""
}

// extractDice prefers an explicit dice field over the result field.
func (p *Parser) extractDice(item gjson.Result) ([3]int, error) {
	var (
		dice [3]int
		err  error
		seen bool
	)
	for _, keys := range [][]string{p.cfg.DiceKeys, p.cfg.ResultKeys} {
		for _, key := range keys {
			v := item.Get(key)
			if !v.Exists() || v.Type == gjson.Null {
				continue
			}
			seen = true
			dice, err = diceFromValue(v)
			if err == nil {
				return dice, p.checkRange(dice)
			}
		}
	}
	if !seen {
		return dice, fmt.Errorf("no dice or result field")
	}
	return dice, err
}

func (p *Parser) checkRange(dice [3]int) error {
	for i, d := range dice {
		if d < p.cfg.DiceMin || d > p.cfg.DiceMax {
			return fmt.Errorf("die %d = %d outside %d..%d", i+1, d, p.cfg.DiceMin, p.cfg.DiceMax)
		}
	}
	return nil
}

func diceFromValue(v gjson.Result) ([3]int, error) {
	var dice [3]int
	switch {
	case v.IsArray():
		elems := v.Array()
		if len(elems) != 3 {
			return dice, fmt.Errorf("dice array has %d values, want 3", len(elems))
		}
		for i, e := range elems {
			n, err := intFromValue(e)
			if err != nil {
				return dice, fmt.Errorf("die %d: %v", i+1, err)
			}
			dice[i] = n
		}
		return dice, nil
	case v.Type == gjson.String:
		return diceFromDigits(v.Str)
	case v.Type == gjson.Number:
		return diceFromDigits(v.Raw)
	default:
		return dice, fmt.Errorf("unsupported result value %s", v.Raw)
	}
}

// diceFromDigits takes the first three decimal digits of s, so "4:5:6",
// "4,5,6" and "4:5,6" all give (4,5,6). Fewer than three digits is an error.
func diceFromDigits(s string) ([3]int, error) {
	var dice [3]int
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		dice[n] = int(r - '0')
		n++
		if n == 3 {
			return dice, nil
		}
	}
	return dice, fmt.Errorf("result %q has %d digits, want at least 3", s, n)
}

func intFromValue(v gjson.Result) (int, error) {
	switch v.Type {
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) {
			return 0, fmt.Errorf("%s is not an integer", v.Raw)
		}
		return int(v.Num), nil
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v.Str)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s is not an integer", v.Raw)
	}
}
