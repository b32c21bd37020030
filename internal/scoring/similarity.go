package scoring

// similarity returns an edit-distance ratio in [0,1] over runes. 1 means the
// strings are identical, 0 means nothing in common or an empty input.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ra := []rune(a)
	rb := []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}

	dist := levenshtein(ra, rb)
	return 1 - float64(dist)/float64(longest)
}

// levenshtein computes edit distance with a single rolling row.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			insert := row[j-1] + 1
			remove := row[j] + 1
			replace := prev
			if a[i-1] != b[j-1] {
				replace++
			}

			prev = row[j]
			row[j] = min3(insert, remove, replace)
		}
	}

	return row[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
