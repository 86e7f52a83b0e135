package monitors

import (
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/webmoniter/app/config"
)

// filterItems drops items rejected by any filter and keeps document order.
func filterItems(items []*gofeed.Item, filters []config.FeedFilter) []*gofeed.Item {
	if len(filters) == 0 {
		return items
	}

	kept := make([]*gofeed.Item, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if excluded, _ := applyFilters(item, filters); !excluded {
			kept = append(kept, item)
		}
	}
	return kept
}

// applyFilters reports whether item is excluded and why. Excludes win over
// includes; an include list requires at least one match.
func applyFilters(item *gofeed.Item, filters []config.FeedFilter) (bool, string) {
	for _, filter := range filters {
		value := fieldValue(item, filter.Field)

		for _, exclude := range filter.Excludes {
			if matchesFilter(value, exclude) {
				return true, fmt.Sprintf("excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func fieldValue(item *gofeed.Item, field string) string {
	switch field {
	case "title":
		return item.Title
	case "description":
		return item.Description
	case "content":
		return item.Content
	case "authors":
		return itemAuthor(item)
	case "link":
		return item.Link
	case "categories":
		return strings.Join(item.Categories, " ")
	default:
		return ""
	}
}
