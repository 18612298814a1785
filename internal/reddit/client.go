// Package reddit implements the content-platform reader. All requests flow
// through the shared rate limiter and carry a bearer token obtained from the
// credential provider; server-reported rate-limit headers feed back into the
// limiter after every response.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prospector-io/prospector/config"
	"github.com/prospector-io/prospector/internal/ratelimit"
	"github.com/prospector-io/prospector/models"
)

// CredentialProvider yields a valid bearer token, refreshing as needed.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// APIError carries the upstream endpoint, status and body for diagnostics.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reddit %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Client is the read-only content-platform API client.
type Client struct {
	http      *http.Client
	limiter   *ratelimit.Limiter
	creds     CredentialProvider
	baseURL   string
	userAgent string
}

func NewClient(cfg config.RedditConfig, limiter *ratelimit.Limiter, creds CredentialProvider) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://oauth.reddit.com"
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "prospector/1.0"
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		limiter:   limiter,
		creds:     creds,
		baseURL:   base,
		userAgent: ua,
	}
}

// get acquires budget, performs one authenticated GET and observes the
// response rate-limit headers before returning the body.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit acquire: %w", err)
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reddit %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.observeHeaders(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Endpoint: path, Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

// observeHeaders feeds X-Ratelimit-Remaining/Reset into the shared limiter.
// Missing or malformed headers are ignored.
func (c *Client) observeHeaders(h http.Header) {
	remaining := 0
	if v := h.Get("X-Ratelimit-Remaining"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			remaining = int(f)
		}
	}
	var resetAt time.Time
	if v := h.Get("X-Ratelimit-Reset"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			resetAt = time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	c.limiter.Observe(remaining, resetAt)
}

// NewPosts pages through a subreddit's newest submissions until limit posts
// are collected or the listing is exhausted.
func (c *Client) NewPosts(ctx context.Context, subreddit string, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 25
	}
	var posts []models.Post
	after := ""
	for len(posts) < limit {
		page := limit - len(posts)
		if page > 100 {
			page = 100
		}
		q := url.Values{"limit": {strconv.Itoa(page)}, "raw_json": {"1"}}
		if after != "" {
			q.Set("after", after)
		}
		body, err := c.get(ctx, "/r/"+subreddit+"/new", q)
		if err != nil {
			return nil, err
		}
		batch, next, err := parseListing(body, subreddit)
		if err != nil {
			return nil, fmt.Errorf("parse /r/%s/new: %w", subreddit, err)
		}
		posts = append(posts, batch...)
		if next == "" || len(batch) == 0 {
			break
		}
		after = next
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// Comments returns the top-level comment forest for a post.
func (c *Client) Comments(ctx context.Context, postID string) ([]models.Comment, error) {
	id := stripKind(postID)
	body, err := c.get(ctx, "/comments/"+id, url.Values{"raw_json": {"1"}, "depth": {"2"}})
	if err != nil {
		return nil, err
	}
	return parseCommentTree(body)
}

// UserHistory returns a user's recent submissions. Private, suspended or
// deleted accounts map to models.ErrUserUnavailable so the agent loop can
// continue without the signal.
func (c *Client) UserHistory(ctx context.Context, username string) ([]models.Post, error) {
	body, err := c.get(ctx, "/user/"+username+"/submitted", url.Values{"limit": {"25"}, "raw_json": {"1"}})
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && (apiErr.Status == http.StatusForbidden || apiErr.Status == http.StatusNotFound) {
			return nil, models.ErrUserUnavailable
		}
		return nil, err
	}
	posts, _, err := parseListing(body, "")
	if err != nil {
		return nil, fmt.Errorf("parse user history: %w", err)
	}
	return posts, nil
}

func asAPIError(err error, target **APIError) bool {
	for err != nil {
		if e, ok := err.(*APIError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func stripKind(id string) string {
	if len(id) > 3 && id[:3] == "t3_" {
		return id[3:]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// --- wire types ---

type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type postData struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	Flair       string  `json:"link_flair_text"`
	Over18      bool    `json:"over_18"`
}

type commentData struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	Score      int             `json:"score"`
	CreatedUTC float64         `json:"created_utc"`
	Replies    json.RawMessage `json:"replies"`
}

func parseListing(body []byte, fallbackSub string) ([]models.Post, string, error) {
	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, "", err
	}
	var posts []models.Post
	for _, child := range l.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var pd postData
		if err := json.Unmarshal(child.Data, &pd); err != nil {
			return nil, "", err
		}
		posts = append(posts, pd.toPost(fallbackSub))
	}
	return posts, l.Data.After, nil
}

func (pd postData) toPost(fallbackSub string) models.Post {
	id := pd.Name
	if id == "" {
		id = "t3_" + pd.ID
	}
	sub := pd.Subreddit
	if sub == "" {
		sub = fallbackSub
	}
	return models.Post{
		ID:          id,
		Subreddit:   sub,
		Title:       pd.Title,
		Body:        pd.Selftext,
		Author:      pd.Author,
		Score:       pd.Score,
		NumComments: pd.NumComments,
		CreatedAt:   time.Unix(int64(pd.CreatedUTC), 0).UTC(),
		Permalink:   pd.Permalink,
		URL:         pd.URL,
		Flair:       pd.Flair,
		NSFW:        pd.Over18,
	}
}

// parseCommentTree handles the two-element [post listing, comment listing]
// response shape.
func parseCommentTree(body []byte) ([]models.Comment, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, fmt.Errorf("comment response: %w", err)
	}
	if len(parts) < 2 {
		return nil, nil
	}
	return parseCommentListing(parts[1])
}

func parseCommentListing(raw json.RawMessage) ([]models.Comment, error) {
	var l listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	var out []models.Comment
	for _, child := range l.Data.Children {
		if child.Kind != "t1" {
			continue
		}
		var cd commentData
		if err := json.Unmarshal(child.Data, &cd); err != nil {
			return nil, err
		}
		cm := models.Comment{
			ID:        cd.ID,
			Author:    cd.Author,
			Body:      cd.Body,
			Score:     cd.Score,
			CreatedAt: time.Unix(int64(cd.CreatedUTC), 0).UTC(),
		}
		// "replies" is the empty string for leaf comments.
		if len(cd.Replies) > 0 && cd.Replies[0] == '{' {
			replies, err := parseCommentListing(cd.Replies)
			if err == nil {
				cm.Replies = replies
			}
		}
		out = append(out, cm)
	}
	return out, nil
}
