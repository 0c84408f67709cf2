package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

const resultsPage = `<html><body>
<div class="result results_links">
  <a class="result__a" href="#">Go (programming language)</a>
  <a class="result__snippet" href="#">The Go programming language is an open
     source project...</a>
</div>
<div class="result">
  <a class="result__a" href="#">Rob Pike</a>
  <a class="result__snippet" href="#">Rob Pike is a Canadian programmer <b>known for</b> Go.</a>
</div>
<div class="result">
  <a class="result__snippet extra" href="#">Third result.</a>
</div>
</body></html>`

func TestExtractSnippets(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(resultsPage))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"The Go programming language is an open source project...",
		"Rob Pike is a Canadian programmer known for Go.",
		"Third result.",
	}, ExtractSnippets(doc))
}

func TestPickSnippet(t *testing.T) {
	assert.Equal(t, "Rob Pike is a Canadian programmer known for Go.",
		pickSnippet([]string{"Some page.", "Rob Pike is a Canadian programmer known for Go."}))
	assert.Equal(t, "One. Two.", pickSnippet([]string{"One...", "Two.", "Three."}))
}

func TestSearch_Predefined(t *testing.T) {
	s := NewSearch(SearchConfig{}, http.DefaultClient, discardLogger())
	res, err := s.Invoke(context.Background(), skills.Request{Slots: map[string]string{"query": "the fastest animal"}})
	require.NoError(t, err)
	assert.Equal(t, "predefined", res.Fields["source"])
	assert.Contains(t, res.Fields["answer"], "peregrine falcon")

	res, err = s.Invoke(context.Background(), skills.Request{Slots: map[string]string{"query": "how many planets in our solar system"}})
	require.NoError(t, err)
	assert.Contains(t, res.Fields["answer"], "eight planets")
}

func TestSearch_OfflineMiss(t *testing.T) {
	s := NewSearch(SearchConfig{}, http.DefaultClient, discardLogger())
	res, err := s.Invoke(context.Background(), skills.Request{Slots: map[string]string{"query": "rob pike"}})
	require.NoError(t, err)
	assert.Equal(t, "none", res.Fields["variant"])
	assert.Equal(t, "rob pike", res.Fields["query"])
}

func TestSearch_Remote(t *testing.T) {
	var gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAgent = r.Header.Get("User-Agent")
		if gotQuery == "nothing at all" {
			fmt.Fprint(w, "<html><body>No results.</body></html>")
			return
		}
		fmt.Fprint(w, resultsPage)
	}))
	defer srv.Close()

	s := NewSearch(SearchConfig{Endpoint: srv.URL}, srv.Client(), discardLogger())

	res, err := s.Invoke(context.Background(), skills.Request{Slots: map[string]string{"query": "rob pike"}})
	require.NoError(t, err)
	assert.Equal(t, "rob pike", gotQuery)
	assert.Equal(t, searchUserAgent, gotAgent)
	assert.Equal(t, "duckduckgo", res.Fields["source"])
	assert.Equal(t, "Rob Pike is a Canadian programmer known for Go.", res.Fields["answer"])

	res, err = s.Invoke(context.Background(), skills.Request{Slots: map[string]string{"query": "nothing at all"}})
	require.NoError(t, err)
	assert.Equal(t, "none", res.Fields["variant"])
}

func TestSearch_RemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewSearch(SearchConfig{Endpoint: srv.URL}, srv.Client(), discardLogger())
	_, err := s.Invoke(context.Background(), skills.Request{Slots: map[string]string{"query": "rob pike"}})
	assert.Error(t, err)
}
