package importer

import "strings"

// rule is one premium pattern. Rules are tried in order and the first match
// supplies the reason.
type rule struct {
	reason string
	match  func(n string) bool
}

var premiumRules = []rule{
	{"five or more repeated digits", func(n string) bool { return longestRun(tail(n, 8)) >= 5 }},
	{"tail AAAA", func(n string) bool { return sameDigits(tail(n, 4)) }},
	{"ascending tail", func(n string) bool { return stepRun(tail(n, 4), 1) }},
	{"descending tail", func(n string) bool { return stepRun(tail(n, 4), -1) }},
	{"symmetric tail", func(n string) bool { return palindrome(tail(n, 6)) }},
	{"tail AABB", func(n string) bool {
		t := tail(n, 4)
		return t[0] == t[1] && t[2] == t[3] && t[0] != t[2]
	}},
	{"tail ABAB", func(n string) bool {
		t := tail(n, 4)
		return t[0] == t[2] && t[1] == t[3] && t[0] != t[1]
	}},
	{"tail ABBA", func(n string) bool {
		t := tail(n, 4)
		return t[0] == t[3] && t[1] == t[2] && t[0] != t[1]
	}},
	{"tail AAA", func(n string) bool { return sameDigits(tail(n, 3)) }},
	{"5201314", func(n string) bool {
		t := tail(n, 8)
		return strings.Contains(t, "5201314") || strings.Contains(t, "1314520")
	}},
	{"ends with 1314", func(n string) bool { return strings.HasSuffix(n, "1314") }},
	{"ends with 520", func(n string) bool { return strings.HasSuffix(n, "520") }},
	{"ends with 168", func(n string) bool { return strings.HasSuffix(n, "168") }},
	{"ends with 518", func(n string) bool { return strings.HasSuffix(n, "518") }},
	{"four or more 8s", func(n string) bool { return strings.Count(tail(n, 8), "8") >= 4 }},
}

// Classify reports whether number is premium and the reason of the first
// matching rule.
func Classify(number string) (bool, string) {
	if len(number) < 8 {
		return false, ""
	}
	for _, r := range premiumRules {
		if r.match(number) {
			return true, r.reason
		}
	}
	return false, ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func longestRun(s string) int {
	best, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i] == s[i-1] {
			cur++
		} else {
			cur = 1
		}
		if cur > best {
			best = cur
		}
	}
	return best
}

func sameDigits(s string) bool {
	return len(s) > 0 && strings.Count(s, s[:1]) == len(s)
}

func stepRun(s string, step int) bool {
	for i := 1; i < len(s); i++ {
		if int(s[i])-int(s[i-1]) != step {
			return false
		}
	}
	return true
}

func palindrome(s string) bool {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		if s[i] != s[j] {
			return false
		}
	}
	return true
}
