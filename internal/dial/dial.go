package dial

import (
	"slices"
	"strings"
)

// OperatorNumber is where an unmatchable digit sequence is redirected.
const OperatorNumber = "0"

// KnownNumbers is the fixed set of dialable numbers, in lookup order.
var KnownNumbers = []string{
	OperatorNumber,
	"7",        // test number
	"349",      // "Fiz"
	"4225",     // "Hack"
	"34643664", // "Dingdong"
	"8675309",
	"47932786463439686262438634258447455587853896846",
}

// Outcome classifies an accumulated digit string.
type Outcome int

const (
	// Partial means the digits are a strict prefix of a known number;
	// keep accumulating.
	Partial Outcome = iota
	// Resolved means the digits exactly match a known number.
	Resolved
	// Fallback means no known number starts with the digits. The caller
	// treats the dial as resolved to OperatorNumber.
	Fallback
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Partial:
		return "partial"
	case Resolved:
		return "resolved"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Matcher prefix-validates accumulated digits against an immutable number set.
type Matcher struct {
	numbers []string
}

// NewMatcher creates a matcher over numbers. The slice is copied.
func NewMatcher(numbers []string) *Matcher {
	return &Matcher{numbers: slices.Clone(numbers)}
}

// Default returns a matcher over KnownNumbers.
func Default() *Matcher {
	return NewMatcher(KnownNumbers)
}

// Match classifies digits and returns the number the dial resolves to.
// For Partial the returned number is the input unchanged; for Fallback it is
// OperatorNumber.
func (m *Matcher) Match(digits string) (Outcome, string) {
	if slices.Contains(m.numbers, digits) {
		return Resolved, digits
	}
	for _, n := range m.numbers {
		if strings.HasPrefix(n, digits) {
			return Partial, digits
		}
	}
	return Fallback, OperatorNumber
}

// Numbers returns a copy of the matcher's number set.
func (m *Matcher) Numbers() []string {
	return slices.Clone(m.numbers)
}
