// Package tracker posts comments to issue tracker tickets.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/goccy/go-json"
)

const defaultEndpoint = "https://api.tracker.yandex.net/v2"

// ErrNoIssueLink is returned when a message carries no URL.
var ErrNoIssueLink = errors.New("no issue link in message")

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// APIError is any answer other than 201 Created.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker request failed (status %d): %s", e.StatusCode, e.Body)
}

// Comment is the created comment as returned by the tracker.
type Comment struct {
	ID        json.Number `json:"id"`
	LongID    string      `json:"longId"`
	Text      string      `json:"text"`
	CreatedAt string      `json:"createdAt"`
}

// Client talks to the tracker REST API.
type Client struct {
	endpoint   string
	orgHeader  string
	orgID      string
	oauthToken string
	http       *http.Client
	logger     *slog.Logger
}

func NewClient(cfg config.TrackerConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		orgHeader:  cfg.OrgHeader,
		orgID:      cfg.OrgID,
		oauthToken: cfg.OAuthToken,
		http:       httpClient,
		logger:     logger.With(slog.String("component", "tracker")),
	}
}

// CommentText is the body posted on behalf of a chat user.
func CommentText(user, text string) string {
	return fmt.Sprintf("Пользователь %s оставил комментарий к задаче через Telegram:\n\n%s", user, text)
}

// CreateComment posts text on issueKey on behalf of user.
func (c *Client) CreateComment(ctx context.Context, issueKey, user, text string) (Comment, error) {
	body, err := json.Marshal(map[string]string{"text": CommentText(user, text)})
	if err != nil {
		return Comment{}, err
	}
	endpoint := c.endpoint + "/issues/" + url.PathEscape(issueKey) + "/comments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Comment{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.oauthToken)
	if c.orgHeader != "" {
		req.Header.Set(c.orgHeader, c.orgID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Comment{}, fmt.Errorf("network error occurred: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("comment rejected", slog.String("issue", issueKey), slog.Int("status", resp.StatusCode), slog.String("body", string(data)))
		return Comment{}, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	var comment Comment
	if err := json.NewDecoder(resp.Body).Decode(&comment); err != nil {
		return Comment{}, fmt.Errorf("response parsing failed: %w", err)
	}
	c.logger.Info("comment created", slog.String("issue", issueKey), slog.String("user", user))
	return comment, nil
}

// IssueKeyFromText finds the first URL in text and returns its path with
// slashes removed, so https://tracker.yandex.ru/TEST-1 yields TEST-1.
func IssueKeyFromText(text string) (string, error) {
	raw := urlPattern.FindString(text)
	if raw == "" {
		return "", ErrNoIssueLink
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse issue link: %w", err)
	}
	return strings.ReplaceAll(u.Path, "/", ""), nil
}
