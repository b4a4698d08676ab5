package compare

import (
	"encoding/json"
	"strconv"
)

// Count is a commit count that may be unknown. The zero value is Unknown,
// which is distinct from Known(0): "we could not tell" versus "no commits".
type Count struct {
	n     int
	known bool
}

// Unknown is the sentinel for a count that could not be determined.
var Unknown = Count{}

// Known returns a determined count.
func Known(n int) Count { return Count{n: n, known: true} }

// Value returns the count and whether it is known.
func (c Count) Value() (int, bool) { return c.n, c.known }

// IsKnown reports whether the count was determined.
func (c Count) IsKnown() bool { return c.known }

// IsZero reports whether the count is known to be zero.
func (c Count) IsZero() bool { return c.known && c.n == 0 }

// String renders unknown counts as "-".
func (c Count) String() string {
	if !c.known {
		return "-"
	}
	return strconv.Itoa(c.n)
}

// MarshalJSON encodes a known count as a number and Unknown as "-".
func (c Count) MarshalJSON() ([]byte, error) {
	if !c.known {
		return json.Marshal("-")
	}
	return json.Marshal(c.n)
}
