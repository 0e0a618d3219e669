package scanner

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/guardmesh/sentinel/pkg/infra/httpx"
)

const (
	SourceRSS        = "rss"
	SourceForum      = "forum"
	SourceAggregator = "aggregator"
	SourceCodeSearch = "code_search"
)

// Item is one raw post/entry fetched from an external source. ID must be
// source-stable so repeated scans of the same item derive the same threat ID.
type Item struct {
	ID    string
	Title string
	Body  string
	URL   string
}

// Source is a read-only fetch of one public endpoint. Fetch is best-effort:
// any network or parse failure surfaces as an error that the scanner logs
// and swallows.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Item, error)
}

// Settings are the optional per-source tuning knobs from the config file's
// settings block.
type Settings struct {
	MaxItems int `mapstructure:"max_items"`
}

// DecodeSettings decodes a raw settings map. A nil map yields the zero
// value, which disables every knob.
func DecodeSettings(raw map[string]any) (Settings, error) {
	var s Settings
	if raw == nil {
		return s, nil
	}
	if err := mapstructure.Decode(raw, &s); err != nil {
		return s, fmt.Errorf("invalid source settings: %w", err)
	}
	if s.MaxItems < 0 {
		return s, fmt.Errorf("max_items must not be negative")
	}
	return s, nil
}

func capItems(items []Item, max int) []Item {
	if max > 0 && len(items) > max {
		return items[:max]
	}
	return items
}

const fetchTimeout = 20 * time.Second

func fetchBody(ctx context.Context, client httpx.Client, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/rss+xml, application/xml, text/xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// RSSSource reads an RSS or Atom feed.
type RSSSource struct {
	name     string
	url      string
	client   httpx.Client
	settings Settings
}

func NewRSSSource(name, url string, client httpx.Client, settings Settings) *RSSSource {
	return &RSSSource{name: name, url: url, client: client, settings: settings}
}

func (s *RSSSource) Name() string { return s.name }

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	GUID        string `xml:"guid"`
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
}

type atomEntry struct {
	ID      string `xml:"id"`
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Content string `xml:"content"`
}

func (s *RSSSource) Fetch(ctx context.Context) ([]Item, error) {
	body, err := fetchBody(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	var items []Item
	for _, it := range feed.Channel.Items {
		id := it.GUID
		if id == "" {
			id = it.Link
		}
		items = append(items, Item{ID: id, Title: it.Title, Body: it.Description, URL: it.Link})
	}
	for _, e := range feed.Entries {
		text := e.Content
		if text == "" {
			text = e.Summary
		}
		items = append(items, Item{ID: e.ID, Title: e.Title, Body: text})
	}
	return capItems(items, s.settings.MaxItems), nil
}

// ForumSource reads a reddit-style JSON listing.
type ForumSource struct {
	name     string
	url      string
	client   httpx.Client
	settings Settings
}

func NewForumSource(name, url string, client httpx.Client, settings Settings) *ForumSource {
	return &ForumSource{name: name, url: url, client: client, settings: settings}
}

func (s *ForumSource) Name() string { return s.name }

type forumListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				SelfText string `json:"selftext"`
				URL      string `json:"url"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (s *ForumSource) Fetch(ctx context.Context) ([]Item, error) {
	body, err := fetchBody(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}

	var listing forumListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}

	var items []Item
	for _, child := range listing.Data.Children {
		d := child.Data
		items = append(items, Item{ID: d.ID, Title: d.Title, Body: d.SelfText, URL: d.URL})
	}
	return capItems(items, s.settings.MaxItems), nil
}

// AggregatorSource reads an Algolia-style search result of link submissions.
type AggregatorSource struct {
	name     string
	url      string
	client   httpx.Client
	settings Settings
}

func NewAggregatorSource(name, url string, client httpx.Client, settings Settings) *AggregatorSource {
	return &AggregatorSource{name: name, url: url, client: client, settings: settings}
}

func (s *AggregatorSource) Name() string { return s.name }

type aggregatorResult struct {
	Hits []struct {
		ObjectID  string `json:"objectID"`
		Title     string `json:"title"`
		StoryText string `json:"story_text"`
		URL       string `json:"url"`
	} `json:"hits"`
}

func (s *AggregatorSource) Fetch(ctx context.Context) ([]Item, error) {
	body, err := fetchBody(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}

	var result aggregatorResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}

	var items []Item
	for _, hit := range result.Hits {
		items = append(items, Item{ID: hit.ObjectID, Title: hit.Title, Body: hit.StoryText, URL: hit.URL})
	}
	return capItems(items, s.settings.MaxItems), nil
}

// CodeSearchSource reads a GitHub-style code search response.
type CodeSearchSource struct {
	name     string
	url      string
	client   httpx.Client
	settings Settings
}

func NewCodeSearchSource(name, url string, client httpx.Client, settings Settings) *CodeSearchSource {
	return &CodeSearchSource{name: name, url: url, client: client, settings: settings}
}

func (s *CodeSearchSource) Name() string { return s.name }

type codeSearchResult struct {
	Items []struct {
		SHA        string `json:"sha"`
		Name       string `json:"name"`
		Path       string `json:"path"`
		HTMLURL    string `json:"html_url"`
		Repository struct {
			FullName    string `json:"full_name"`
			Description string `json:"description"`
		} `json:"repository"`
	} `json:"items"`
}

func (s *CodeSearchSource) Fetch(ctx context.Context) ([]Item, error) {
	body, err := fetchBody(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}

	var result codeSearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}

	var items []Item
	for _, it := range result.Items {
		title := it.Repository.FullName + "/" + it.Path
		items = append(items, Item{ID: it.SHA, Title: title, Body: it.Repository.Description, URL: it.HTMLURL})
	}
	return capItems(items, s.settings.MaxItems), nil
}

// BuildSource constructs a source from its declared type and raw settings.
func BuildSource(sourceType, name, url string, rawSettings map[string]any, client httpx.Client) (Source, error) {
	settings, err := DecodeSettings(rawSettings)
	if err != nil {
		return nil, err
	}
	switch sourceType {
	case SourceRSS:
		return NewRSSSource(name, url, client, settings), nil
	case SourceForum:
		return NewForumSource(name, url, client, settings), nil
	case SourceAggregator:
		return NewAggregatorSource(name, url, client, settings), nil
	case SourceCodeSearch:
		return NewCodeSearchSource(name, url, client, settings), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", sourceType)
	}
}
