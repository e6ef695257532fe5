// Package media implements a thin HTTP client for the media server's REST
// API: library search, media folder enumeration, and remote metadata lookup
// by external provider ID. The bot command handlers and the request queue
// are its consumers.
//
// Error semantics:
//   - ErrNotFound is returned when a remote metadata lookup yields nothing.
//   - Non-2xx responses surface as *APIError carrying the status code.
//   - Transport failures propagate the underlying error.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a lookup matches no item.
var ErrNotFound = errors.New("media: not found")

// APIError is a non-2xx response from the media server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("media: server returned %d: %s", e.Status, e.Body)
}

// Item is a library entry as surfaced to the bot.
type Item struct {
	ID             string
	Name           string
	Year           int
	Type           string
	ExternalID     string
	AudioLanguages []string
}

// PrimaryImageURL returns the URL of the item's primary image, or "" when
// the item has none.
func (c *Client) PrimaryImageURL(it Item) string {
	if it.ID == "" {
		return ""
	}
	return c.base + "/Items/" + url.PathEscape(it.ID) + "/Images/Primary"
}

// Folder is a top-level library folder.
type Folder struct {
	ID   string
	Name string
}

// RemoteMetadata is the result of resolving an external provider ID against
// the server's metadata providers.
type RemoteMetadata struct {
	Title    string
	Year     int
	TypeName string
}

// Client talks to a single media server with an API token.
type Client struct {
	base string
	hc   *http.Client
	log  zerolog.Logger
}

// NewClient builds a Client for the server at baseURL. The token is sent on
// every request; requests are logged at debug level.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	log = log.With().Str("component", "media").Logger()
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &authTransport{token: token, next: &loggingTransport{log: log}},
		},
		log: log,
	}
}

// Search queries the library for query, newest first. When folderIDs is
// non-empty the results are restricted to those folders. At most limit
// items are returned; limit <= 0 means the server default.
func (c *Client) Search(ctx context.Context, query string, folderIDs []string, limit int) ([]Item, error) {
	q := url.Values{}
	q.Set("searchTerm", query)
	q.Set("recursive", "true")
	q.Set("includeItemTypes", "Movie,Series")
	q.Set("sortBy", "DateCreated")
	q.Set("sortOrder", "Descending")
	q.Set("fields", "ProviderIds,MediaStreams")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(folderIDs) > 0 {
		q.Set("ancestorIds", strings.Join(folderIDs, ","))
	}

	var out itemsPage
	if err := c.get(ctx, "/Items", q, &out); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(out.Items))
	for _, raw := range out.Items {
		items = append(items, raw.toItem())
	}
	return items, nil
}

// Folders returns the server's top-level media folders.
func (c *Client) Folders(ctx context.Context) ([]Folder, error) {
	var out struct {
		Items []struct {
			ID   string `json:"Id"`
			Name string `json:"Name"`
		} `json:"Items"`
	}
	if err := c.get(ctx, "/Library/MediaFolders", nil, &out); err != nil {
		return nil, err
	}
	folders := make([]Folder, 0, len(out.Items))
	for _, f := range out.Items {
		folders = append(folders, Folder{ID: f.ID, Name: f.Name})
	}
	return folders, nil
}

// ResolveExternal looks up an external provider ID (IMDb) via the server's
// remote search, trying movies first and falling back to series. Returns
// ErrNotFound when neither yields a match.
func (c *Client) ResolveExternal(ctx context.Context, externalID string) (*RemoteMetadata, error) {
	for _, kind := range []string{"Movie", "Series"} {
		meta, err := c.remoteSearch(ctx, kind, externalID)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			return meta, nil
		}
	}
	return nil, ErrNotFound
}

func (c *Client) remoteSearch(ctx context.Context, kind, externalID string) (*RemoteMetadata, error) {
	body, err := json.Marshal(map[string]any{
		"SearchInfo": map[string]any{
			"ProviderIds": map[string]string{"Imdb": externalID},
		},
	})
	if err != nil {
		return nil, err
	}

	var results []struct {
		Name           string `json:"Name"`
		ProductionYear int    `json:"ProductionYear"`
	}
	if err := c.post(ctx, "/Items/RemoteSearch/"+kind, body, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &RemoteMetadata{
		Title:    results[0].Name,
		Year:     results[0].ProductionYear,
		TypeName: kind,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// itemsPage mirrors the server's paged item envelope.
type itemsPage struct {
	Items []rawItem `json:"Items"`
	Total int       `json:"TotalRecordCount"`
}

type rawItem struct {
	ID           string            `json:"Id"`
	Name         string            `json:"Name"`
	Year         int               `json:"ProductionYear"`
	Type         string            `json:"Type"`
	ProviderIDs  map[string]string `json:"ProviderIds"`
	MediaStreams []struct {
		Type     string `json:"Type"`
		Language string `json:"Language"`
	} `json:"MediaStreams"`
}

func (r rawItem) toItem() Item {
	it := Item{
		ID:   r.ID,
		Name: r.Name,
		Year: r.Year,
		Type: r.Type,
	}
	for k, v := range r.ProviderIDs {
		if strings.EqualFold(k, "Imdb") {
			it.ExternalID = v
		}
	}
	seen := map[string]struct{}{}
	for _, s := range r.MediaStreams {
		if !strings.EqualFold(s.Type, "Audio") || s.Language == "" {
			continue
		}
		lang := strings.ToLower(s.Language)
		if _, dup := seen[lang]; dup {
			continue
		}
		seen[lang] = struct{}{}
		it.AudioLanguages = append(it.AudioLanguages, lang)
	}
	return it
}
