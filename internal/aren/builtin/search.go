package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

// DefaultSearchEndpoint is DuckDuckGo's HTML-only results page.
const DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

// searchUserAgent is sent with result page requests; the HTML endpoint
// refuses clients without a browser-like agent.
const searchUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// SearchConfig points the search skill at a results page. Without an
// endpoint only predefined answers are used.
type SearchConfig struct {
	Endpoint string
}

// predefined answers common questions without a network call.
var predefined = []struct{ key, answer string }{
	{"when was python created", "Python was created by Guido van Rossum and first released in 1991."},
	{"who invented the internet", "The Internet grew out of ARPANET in the late 1960s; Vint Cerf and Bob Kahn designed TCP/IP in the 1970s."},
	{"tallest mountain", "Mount Everest is the tallest mountain above sea level, at 8,848.86 metres."},
	{"fastest animal", "The peregrine falcon is the fastest animal, diving at over 389 km/h; on land the cheetah reaches about 120 km/h."},
	{"deepest ocean", "The Mariana Trench in the western Pacific is the deepest known point, about 10,994 metres at Challenger Deep."},
	{"largest country", "Russia is the largest country by area, about 17.1 million square kilometres."},
	{"most populated country", "India became the most populous country in 2023, with about 1.43 billion people."},
	{"planets in solar system", "There are eight planets: Mercury, Venus, Earth, Mars, Jupiter, Saturn, Uranus and Neptune."},
	{"taj mahal", "The Taj Mahal is a white marble mausoleum in Agra, commissioned in 1631 by Shah Jahan for Mumtaz Mahal."},
	{"capital of india", "New Delhi is the capital of India."},
	{"golang", "Go is an open-source programming language designed at Google, first released in 2009."},
}

// biographyHints mark snippets that answer "who is" questions well.
var biographyHints = []string{"born", " is a ", " was a ", "known for", "famous"}

// Search is the search skill.
type Search struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewSearch returns the search skill.
func NewSearch(cfg SearchConfig, client *http.Client, logger *slog.Logger) *Search {
	return &Search{endpoint: cfg.Endpoint, client: client, logger: logger}
}

// Invoke implements skills.Invoker.
func (s *Search) Invoke(ctx context.Context, req skills.Request) (*skills.Result, error) {
	query := strings.TrimSpace(req.Slots["query"])

	if answer, ok := lookupPredefined(query); ok {
		return fields("query", query, "answer", answer, "source", "predefined"), nil
	}
	if s.endpoint == "" {
		return fields("query", query, "variant", "none"), nil
	}

	snippets, err := s.fetch(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(snippets) == 0 {
		return fields("query", query, "variant", "none"), nil
	}
	return fields("query", query, "answer", pickSnippet(snippets), "source", "duckduckgo"), nil
}

func lookupPredefined(query string) (string, bool) {
	q := strings.ToLower(query)
	for _, p := range predefined {
		if strings.Contains(q, p.key) {
			return p.answer, true
		}
	}
	for _, p := range predefined {
		if containsAllWords(q, strings.Fields(p.key)) {
			return p.answer, true
		}
	}
	return "", false
}

func containsAllWords(q string, words []string) bool {
	have := make(map[string]bool)
	for _, w := range strings.Fields(q) {
		have[w] = true
	}
	for _, w := range words {
		if !have[w] {
			return false
		}
	}
	return true
}

func (s *Search) fetch(ctx context.Context, query string) ([]string, error) {
	u := s.endpoint + "?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: parse: %w", err)
	}
	snippets := ExtractSnippets(doc)
	s.logger.Debug("search: results", "query", query, "snippets", len(snippets))
	return snippets, nil
}

// ExtractSnippets returns the text of every element whose class list
// contains result__snippet, in document order.
func ExtractSnippets(doc *html.Node) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") {
			if text := collapse(textOf(n)); text != "" {
				out = append(out, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// pickSnippet prefers a biographical snippet and otherwise joins the first
// two.
func pickSnippet(snippets []string) string {
	for _, s := range snippets {
		lower := " " + strings.ToLower(s) + " "
		for _, hint := range biographyHints {
			if strings.Contains(lower, hint) {
				return s
			}
		}
	}
	if len(snippets) > 2 {
		snippets = snippets[:2]
	}
	return strings.ReplaceAll(strings.Join(snippets, " "), "...", ".")
}
