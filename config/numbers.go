package config

import (
	"strconv"
	"strings"
)

// ParseNumberList parses a user-supplied list of entry numbers such as
// "1 23 4-8 32". Tokens are separated by whitespace or commas; "a-b" spans
// an inclusive range. Malformed tokens are dropped, not errors, and
// duplicates are removed. Order of first appearance is preserved.
func ParseNumberList(s string) []int {
	var (
		nums []int
		seen = make(map[int]bool)
	)
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			nums = append(nums, n)
		}
	}

	for _, token := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	}) {
		if lo, hi, ok := parseRange(token); ok {
			for n := lo; n <= hi; n++ {
				add(n)
			}
			continue
		}
		if n, err := strconv.Atoi(token); err == nil {
			add(n)
		}
	}
	return nums
}

func parseRange(token string) (lo, hi int, ok bool) {
	i := strings.Index(token, "-")
	if i <= 0 {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(token[:i])
	if err != nil {
		return 0, 0, false
	}
	hi, err = strconv.Atoi(token[i+1:])
	if err != nil || hi < lo {
		return 0, 0, false
	}
	return lo, hi, true
}
