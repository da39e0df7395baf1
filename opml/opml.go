// Package opml provides OPML import and export for podqueue subscriptions.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// Feed is one subscription as it appears in an OPML outline.
type Feed struct {
	Name string
	URL  string
}

// OPML represents the root OPML structure.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains metadata about the OPML document.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outline elements (feeds).
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a feed or grouping in OPML.
type Outline struct {
	Text     string    `xml:"text,attr,omitempty"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLUrl   string    `xml:"xmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Parse reads an OPML document and extracts feeds, descending into nested
// outlines. Outlines without an xmlUrl are treated as groupings.
func Parse(r io.Reader) ([]Feed, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}
	return extractFeeds(doc.Body.Outlines), nil
}

func extractFeeds(outlines []Outline) []Feed {
	var feeds []Feed
	for _, outline := range outlines {
		if outline.XMLUrl != "" {
			name := outline.Title
			if name == "" {
				name = outline.Text
			}
			feeds = append(feeds, Feed{Name: name, URL: outline.XMLUrl})
		}
		if len(outline.Outlines) > 0 {
			feeds = append(feeds, extractFeeds(outline.Outlines)...)
		}
	}
	return feeds
}

// Generate writes an OPML document for the given feeds.
func Generate(w io.Writer, feeds []Feed) error {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       "podqueue subscriptions",
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	for _, f := range feeds {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   f.Name,
			Title:  f.Name,
			Type:   "rss",
			XMLUrl: f.URL,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to generate OPML: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
