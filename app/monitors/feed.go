package monitors

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/notify"
	"github.com/lysyi3m/webmoniter/app/probe"
)

const (
	feedPlatform       = "feed"
	feedSummaryLimit   = 500
	feedPublishedStamp = "2006-01-02 15:04"
)

// Feed watches RSS and Atom documents for a new newest item. Entity ids are
// the feed URLs.
type Feed struct {
	parser    *gofeed.Parser
	sanitizer *bluemonday.Policy
	store     *config.Store
}

func NewFeed() *Feed {
	return &Feed{
		parser:    gofeed.NewParser(),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// WithStore makes the probe read feed.filters from the live snapshot.
func (f *Feed) WithStore(store *config.Store) *Feed {
	f.store = store
	return f
}

func (f *Feed) filters() []config.FeedFilter {
	if f.store == nil {
		return nil
	}
	if cfg := f.store.Get(); cfg != nil {
		return cfg.Feed.Filters
	}
	return nil
}

func (f *Feed) Platform() string { return feedPlatform }

func (f *Feed) Settings(cfg *config.Config) probe.Settings {
	return probe.FromMonitor(cfg.Feed.Monitor, cfg.Feed.URLs)
}

func (f *Feed) Fetch(ctx context.Context, s *probe.Session, feedURL string) (probe.Record, error) {
	resp, err := s.Get(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.Status)
	}

	parsed, err := f.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	rec := probe.Record{
		"feed_title": cmp.Or(strings.TrimSpace(parsed.Title), feedURL),
		"feed_link":  parsed.Link,
	}

	item := newestItem(filterItems(parsed.Items, f.filters()))
	if item == nil {
		rec["guid"] = ""
		return rec, nil
	}

	rec["guid"] = cmp.Or(item.GUID, item.Link, item.Title)
	rec["title"] = strings.TrimSpace(item.Title)
	rec["link"] = item.Link
	rec["author"] = itemAuthor(item)
	rec["summary"] = f.summary(cmp.Or(item.Description, item.Content))
	if item.PublishedParsed != nil {
		rec["published"] = item.PublishedParsed.Format(time.RFC3339)
	}
	return rec, nil
}

// newestItem prefers the latest publication date and falls back to document
// order when items carry no dates.
func newestItem(items []*gofeed.Item) *gofeed.Item {
	var newest *gofeed.Item
	for _, item := range items {
		if item == nil {
			continue
		}
		if newest == nil {
			newest = item
			continue
		}
		if item.PublishedParsed != nil && (newest.PublishedParsed == nil || item.PublishedParsed.After(*newest.PublishedParsed)) {
			newest = item
		}
	}
	return newest
}

func itemAuthor(item *gofeed.Item) string {
	var authors []*gofeed.Person
	if len(item.Authors) > 0 {
		authors = item.Authors
	} else if item.Author != nil {
		authors = []*gofeed.Person{item.Author}
	}

	var names []string
	for _, a := range authors {
		if a == nil {
			continue
		}
		if name := formatAuthor(a.Name, a.Email); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	}
	return email
}

func (f *Feed) summary(html string) string {
	text := strings.Join(strings.Fields(f.sanitizer.Sanitize(html)), " ")
	return notify.Truncate(text, feedSummaryLimit)
}

func (f *Feed) Compare(old, new probe.Record) probe.Change {
	if old["guid"] == new["guid"] {
		return probe.Change{Kind: probe.Unchanged}
	}
	// A feed that emptied out is stored without a notification.
	return probe.Change{Kind: probe.Transitioned, Silent: new["guid"] == ""}
}

func (f *Feed) Notification(feedURL string, old, new probe.Record, change probe.Change) notify.Request {
	var body strings.Builder
	body.WriteString(new["title"])
	if new["author"] != "" {
		fmt.Fprintf(&body, "\n作者: %s", new["author"])
	}
	if new["summary"] != "" {
		fmt.Fprintf(&body, "\n\n%s", new["summary"])
	}
	if ts, err := time.Parse(time.RFC3339, new["published"]); err == nil {
		fmt.Fprintf(&body, "\n\n%s", ts.Local().Format(feedPublishedStamp))
	}

	return notify.Request{
		Title:  fmt.Sprintf("%s: %s", new["feed_title"], cmp.Or(new["title"], "新内容")),
		Body:   body.String(),
		URL:    cmp.Or(new["link"], new["feed_link"], feedURL),
		Button: "阅读全文",
		Event:  "new_item",
		Payload: map[string]any{
			"platform": feedPlatform,
			"feed":     feedURL,
			"guid":     new["guid"],
			"title":    new["title"],
			"link":     new["link"],
		},
	}
}

// ExpiredNotice is never sent: feeds carry no credential.
func (f *Feed) ExpiredNotice() notify.Request {
	return notify.Request{Title: "Feed access rejected", Event: "credential_expired"}
}
