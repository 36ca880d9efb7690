package span

import "regexp"

// wordToken matches a single word token: letters, digits, apostrophes and
// hyphens. Used for word counting and coverage computation.
var wordToken = regexp.MustCompile(`[\p{L}\p{N}'-]+`)

// WordTokens returns the [start,end) byte intervals of every word token
// in s, in ascending order.
func WordTokens(s string) [][2]int {
	idx := wordToken.FindAllStringIndex(s, -1)
	out := make([][2]int, len(idx))
	for i, m := range idx {
		out[i] = [2]int{m[0], m[1]}
	}
	return out
}

// CountWords returns the number of word tokens in s.
func CountWords(s string) int {
	return len(wordToken.FindAllStringIndex(s, -1))
}
