package recorder

import (
	"fmt"
	"time"
)

// Session is one recorded game result. IssueID is the upstream identifier and
// the deduplication key; Partition and Seq are its ordering key under the
// configured identifier scheme.
type Session struct {
	IssueID   string    `gorm:"column:issue_id;primaryKey;size:64"`
	Partition string    `gorm:"column:id_partition;size:16;index:idx_sessions_order,priority:1"`
	Seq       int64     `gorm:"column:id_seq;index:idx_sessions_order,priority:2"`
	Dice1     int       `gorm:"column:dice1;type:smallint"`
	Dice2     int       `gorm:"column:dice2;type:smallint"`
	Dice3     int       `gorm:"column:dice3;type:smallint"`
	Point     int       `gorm:"column:point;type:smallint"`
	Outcome   string    `gorm:"column:result_text;size:32"`
	Raw       string    `gorm:"column:raw_result;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
}

func (Session) TableName() string { return "sessions" }

func (s Session) Dice() [3]int { return [3]int{s.Dice1, s.Dice2, s.Dice3} }

// DiceString renders the dice as d1:d2:d3.
func (s Session) DiceString() string {
	return fmt.Sprintf("%d:%d:%d", s.Dice1, s.Dice2, s.Dice3)
}

// Duplicate is one identifier stored more than once. With the primary key in
// place the list is expected to be empty; it exists as a consistency check.
type Duplicate struct {
	IssueID string `gorm:"column:issue_id" json:"id"`
	Count   int64  `gorm:"column:count" json:"count"`
}

// BatchResult reports what InsertBatch did with a batch.
type BatchResult struct {
	// Attempted counts rows whose insert statement succeeded, including
	// duplicates that were already present.
	Attempted int
	// Created counts rows that did not exist before.
	Created int
	// Failed counts rows skipped because of a write error.
	Failed int
}
