package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Rational is a num/den pair such as a frame rate.
type Rational struct {
	Num int
	Den int
}

// ParseRational parses "num:den" or "num/den".
func ParseRational(s string) (Rational, error) {
	sep := strings.IndexAny(s, ":/")
	if sep < 0 {
		return Rational{}, fmt.Errorf("rational %q: missing separator", s)
	}
	num, err := strconv.Atoi(s[:sep])
	if err != nil {
		return Rational{}, fmt.Errorf("rational %q: %w", s, err)
	}
	den, err := strconv.Atoi(s[sep+1:])
	if err != nil {
		return Rational{}, fmt.Errorf("rational %q: %w", s, err)
	}
	if den == 0 {
		return Rational{}, fmt.Errorf("rational %q: zero denominator", s)
	}
	return Rational{Num: num, Den: den}, nil
}

// Float returns num/den, or 0 for the zero value.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}
