// internal/service/discount/domain/meal.go
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MealType is the meal period a discount is redeemed for.
// Zero is a legal value (breakfast); absence is always expressed with a nil *MealType.
type MealType int

const (
	MealBreakfast MealType = 0
	MealLunch     MealType = 1
	MealDinner    MealType = 2
)

// Valid reports whether m is one of breakfast, lunch or dinner.
func (m MealType) Valid() bool {
	return m >= MealBreakfast && m <= MealDinner
}

// Bit returns the bitmask position of m inside CafeteriaDiscountRule.AvailableMealTypes.
//
//	breakfast only   -> 1 (2^0)
//	lunch only       -> 2 (2^1)
//	dinner only      -> 4 (2^2)
//	lunch and dinner -> 6 (2^1 + 2^2)
func (m MealType) Bit() int {
	if !m.Valid() {
		return 0
	}
	return 1 << uint(m)
}

// In reports whether m is enabled in the given bitmask.
func (m MealType) In(availableMealTypes int) bool {
	return m.Valid() && m.Bit()&availableMealTypes != 0
}

func (m MealType) String() string {
	switch m {
	case MealBreakfast:
		return "breakfast"
	case MealLunch:
		return "lunch"
	case MealDinner:
		return "dinner"
	default:
		return "meal(" + strconv.Itoa(int(m)) + ")"
	}
}

// MealMask builds an AvailableMealTypes bitmask from meal types.
func MealMask(meals ...MealType) int {
	mask := 0
	for _, m := range meals {
		mask |= m.Bit()
	}
	return mask
}

// TimeRange is a half-open [Start, End) window within a day, in minutes since midnight.
type TimeRange struct {
	Start int
	End   int
}

// ParseTimeRange parses "HH:MM-HH:MM", e.g. "11:30-13:30".
func ParseTimeRange(s string) (TimeRange, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return TimeRange{}, fmt.Errorf("invalid time range %q", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid time range %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid time range %q: %w", s, err)
	}
	if end <= start {
		return TimeRange{}, fmt.Errorf("invalid time range %q: end must be after start", s)
	}
	return TimeRange{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether the wall-clock time of t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	return minute >= r.Start && minute < r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}
