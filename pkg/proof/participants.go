package proof

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var accountIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// IsAccountID reports whether s is a well-formed triple-dotted account id
// such as "0.0.12345".
func IsAccountID(s string) bool {
	return accountIDPattern.MatchString(strings.TrimSpace(s))
}

// CompareAccountIDs orders account ids by their dotted integer components
// (missing components compare as 0), breaking ties on the raw string.
func CompareAccountIDs(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var ai, bi int64
		if i < len(as) {
			ai, _ = strconv.ParseInt(as[i], 10, 64)
		}
		if i < len(bs) {
			bi, _ = strconv.ParseInt(bs[i], 10, 64)
		}
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

// SortAccountIDs trims, deduplicates and sorts account ids into the
// canonical participant order.
func SortAccountIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return CompareAccountIDs(out[i], out[j]) < 0
	})
	return out
}
