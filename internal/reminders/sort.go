package reminders

import (
	"sort"
	"strings"
)

// SortOption controls the display order of items.
type SortOption string

const (
	SortTitleAsc  SortOption = "title-asc"
	SortTitleDesc SortOption = "title-desc"
	SortDateAsc   SortOption = "date-asc"
	SortDateDesc  SortOption = "date-desc"
)

var sortOptionAliases = map[string]SortOption{
	"":          SortDateAsc,
	"title":     SortTitleAsc,
	"titleasc":  SortTitleAsc,
	"titledesc": SortTitleDesc,
	"date":      SortDateAsc,
	"dateasc":   SortDateAsc,
	"datedesc":  SortDateDesc,
}

// NormalizeSortOption maps legacy spellings (titleAsc, TITLE_ASC, date) onto the
// canonical value. Unknown input resolves to SortDateAsc and reports false.
func NormalizeSortOption(raw string) (SortOption, bool) {
	key := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))
	option, ok := sortOptionAliases[key]
	if !ok {
		return SortDateAsc, false
	}
	return option, true
}

// IsCanonical reports whether the value is one of the four canonical options.
func (option SortOption) IsCanonical() bool {
	switch option {
	case SortTitleAsc, SortTitleDesc, SortDateAsc, SortDateDesc:
		return true
	default:
		return false
	}
}

// SortItems returns a copy of items ordered according to option. Ties are
// broken by identifier so the order is stable across refreshes.
func SortItems(items []Item, option SortOption) []Item {
	sorted := make([]Item, len(items))
	copy(sorted, items)

	less := func(left, right Item) bool {
		switch option {
		case SortTitleAsc, SortTitleDesc:
			leftTitle := strings.ToLower(left.Title)
			rightTitle := strings.ToLower(right.Title)
			if leftTitle != rightTitle {
				if option == SortTitleAsc {
					return leftTitle < rightTitle
				}
				return leftTitle > rightTitle
			}
		default:
			if left.RemindAt != right.RemindAt {
				if option == SortDateDesc {
					return right.RemindAt.Before(left.RemindAt)
				}
				return left.RemindAt.Before(right.RemindAt)
			}
		}
		return left.ID < right.ID
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})
	return sorted
}
