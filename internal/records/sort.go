package records

import (
	"sort"
	"strings"
)

// Sort orders records the way the list view shows them: numeric-aware by
// house number ("7.2" before "7.12"), then by apartment number, newest
// upload first as the tie-break.
func Sort(list []Record) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if c := compareNatural(deref(a.HouseNumber), deref(b.HouseNumber)); c != 0 {
			return c < 0
		}
		if c := compareNatural(deref(a.ApartmentNumber), deref(b.ApartmentNumber)); c != 0 {
			return c < 0
		}
		return a.UploadDate > b.UploadDate
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// compareNatural compares strings treating digit runs as numbers, so
// "7.2" < "7.12" < "7.48". Case-insensitive on the letter runs.
func compareNatural(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	for a != "" && b != "" {
		aRun, aNum, aRest := nextRun(a)
		bRun, bNum, bRest := nextRun(b)
		if aNum && bNum {
			at := strings.TrimLeft(aRun, "0")
			bt := strings.TrimLeft(bRun, "0")
			if len(at) != len(bt) {
				if len(at) < len(bt) {
					return -1
				}
				return 1
			}
			if at != bt {
				if at < bt {
					return -1
				}
				return 1
			}
		} else if aRun != bRun {
			if aRun < bRun {
				return -1
			}
			return 1
		}
		a, b = aRest, bRest
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

// nextRun splits off the leading run of digits or non-digits.
func nextRun(s string) (run string, numeric bool, rest string) {
	numeric = s[0] >= '0' && s[0] <= '9'
	i := 1
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') == numeric {
		i++
	}
	return s[:i], numeric, s[i:]
}
