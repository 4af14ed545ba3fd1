package database

const (
	// Alphabet bounds used to compute ranks lexicographically.
	// Using ASCII '0'..'z' yields a large space with many available midpoints.
	minChar = '0'
	maxChar = 'z'
)

// RankAfter returns a rank that sorts strictly after prev. Successive calls grow the
// rank by one character only after the last character runs out of room below maxChar.
func RankAfter(prev string) string {
	return Between(prev, "")
}

// ValidRank reports whether rank is non-empty, uses only the rank alphabet and does
// not end in minChar (such a rank would leave no room directly before it).
func ValidRank(rank string) bool {
	if rank == "" {
		return false
	}
	for _, r := range rank {
		if r < minChar || r > maxChar {
			return false
		}
	}
	return rank[len(rank)-1] != minChar
}

// Between computes a rank strictly between prev and next. Empty prev means no lower
// bound, empty next means no upper bound. Callers must pass prev < next when both
// are set.
//
// Positions past the end of prev read as minChar and positions past the end of next
// (or every position when next is empty) read as maxChar. Equal characters are carried
// over; the first position with room receives the midpoint.
func Between(prev, next string) string {
	p := []rune(prev)
	n := []rune(next)
	unbounded := next == ""

	var out []rune
	for i := 0; ; i++ {
		lo := rune(minChar)
		if i < len(p) {
			lo = p[i]
		}
		hi := rune(maxChar)
		if !unbounded && i < len(n) {
			hi = n[i]
		}

		if lo+1 < hi {
			return string(append(out, lo+(hi-lo)/2))
		}

		out = append(out, lo)
		// Once the written prefix is strictly below next, the upper bound no longer applies.
		if lo < hi {
			unbounded = true
		}
	}
}
