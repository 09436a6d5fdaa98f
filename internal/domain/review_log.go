package domain

import (
	"fmt"
	"strings"
)

// Grade is the user's assessment of recall quality.
// Again is a failure; it is a first-class answer, not an error.
type Grade int

const (
	Again Grade = iota + 1
	Hard
	Good
	Easy
)

var (
	gradeNames  = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}
	gradeByName = map[string]Grade{"Again": Again, "Hard": Hard, "Good": Good, "Easy": Easy}
)

// Grades lists every valid grade in ordinal order.
var Grades = []Grade{Again, Hard, Good, Easy}

// IsValid reports whether g is Again through Easy.
func (g Grade) IsValid() bool {
	return g >= Again && g <= Easy
}

func (g Grade) String() string {
	if g.IsValid() {
		return gradeNames[g]
	}
	return fmt.Sprintf("Grade(%d)", int(g))
}

// ParseGrade accepts a grade name ("good") or its ordinal ("3").
func ParseGrade(s string) (Grade, error) {
	for name, g := range gradeByName {
		if strings.EqualFold(name, s) {
			return g, nil
		}
	}
	if len(s) == 1 && s[0] >= '1' && s[0] <= '4' {
		return Grade(s[0] - '0'), nil
	}
	return 0, fmt.Errorf("unknown grade %q", s)
}

// ReviewKind records which state a card was answered in.
type ReviewKind int

const (
	KindLearn ReviewKind = iota
	KindReview
	KindRelearn
	// KindManual marks a reset made outside of study, such as forgetting
	// a card. Its grade is zero.
	KindManual
)

// ReviewLogEntry is the immutable audit record of one answer.
// Entries are keyed by (ID, CardID), where ID is the answer time in unix
// milliseconds, so logs from two collections can be unioned.
//
// Intervals are in days; negative values are learning delays in seconds.
type ReviewLogEntry struct {
	ID             int64      `json:"id"`
	CardID         CardID     `json:"card_id"`
	USN            int64      `json:"usn"`
	Grade          Grade      `json:"grade"`
	Kind           ReviewKind `json:"kind"`
	IntervalBefore int        `json:"interval_before"`
	IntervalAfter  int        `json:"interval_after"`
	EaseBefore     int        `json:"ease_before"`
	EaseAfter      int        `json:"ease_after"`
}
