package readings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

const (
	metasearchTimeout  = 15 * time.Second
	maxRelatedLinks    = 5
	metasearchCategory = "general"
)

// MetasearchClient queries a SearxNG instance's JSON API for related links.
type MetasearchClient struct {
	baseURL string
	client  *http.Client
}

// NewMetasearchClient creates a client for the given SearxNG base URL.
func NewMetasearchClient(baseURL string) *MetasearchClient {
	return &MetasearchClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: metasearchTimeout},
	}
}

// searxResponse is the subset of SearxNG's JSON output we read.
type searxResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// Related searches for pages related to the given topic.
func (m *MetasearchClient) Related(ctx context.Context, topic string) ([]store.RelatedLink, error) {
	params := url.Values{
		"q":          {topic},
		"format":     {"json"},
		"categories": {metasearchCategory},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeDependencyDegraded, err).
			WithDetail("capability", "web_metasearch").
			WithSuggestion("check that the metasearch service is running at " + m.baseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, kberr.Newf(kberr.CodeDependencyDegraded,
			"metasearch returned status %d", resp.StatusCode)
	}

	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, kberr.Wrap(kberr.CodeDependencyDegraded, err)
	}

	links := make([]store.RelatedLink, 0, maxRelatedLinks)
	for _, r := range sr.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		links = append(links, store.RelatedLink{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
		})
		if len(links) == maxRelatedLinks {
			break
		}
	}
	return links, nil
}
