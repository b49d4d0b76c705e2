package tracker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/goccy/go-json"
)

func TestCreateComment(t *testing.T) {
	var (
		gotPath string
		gotOrg  string
		gotAuth string
		gotBody map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOrg = r.Header.Get("X-Org-ID")
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":101,"longId":"abc","text":"x","createdAt":"2025-01-01T00:00:00.000+0000"}`)
	}))
	defer srv.Close()

	cfg := config.TrackerConfig{Endpoint: srv.URL + "/v2", OrgHeader: "X-Org-ID", OrgID: "42", OAuthToken: "OAuth tok"}
	c := NewClient(cfg, srv.Client(), nil)
	comment, err := c.CreateComment(context.Background(), "TEST-7", "ivan", "готово")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if comment.LongID != "abc" || comment.ID.String() != "101" {
		t.Fatalf("unexpected comment %+v", comment)
	}
	if gotPath != "/v2/issues/TEST-7/comments" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotOrg != "42" || gotAuth != "OAuth tok" {
		t.Fatalf("unexpected headers org=%q auth=%q", gotOrg, gotAuth)
	}
	want := "Пользователь ivan оставил комментарий к задаче через Telegram:\n\nготово"
	if gotBody["text"] != want {
		t.Fatalf("unexpected text %q", gotBody["text"])
	}
}

func TestCreateCommentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"errorMessages":["no access"]}`)
	}))
	defer srv.Close()

	_, err := NewClient(config.TrackerConfig{Endpoint: srv.URL}, srv.Client(), nil).CreateComment(context.Background(), "A-1", "u", "t")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected APIError 403, got %v", err)
	}
}

func TestIssueKeyFromText(t *testing.T) {
	key, err := IssueKeyFromText("Новая задача: https://tracker.yandex.ru/SUPPORT-12 назначена на вас")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	if key != "SUPPORT-12" {
		t.Fatalf("unexpected key %q", key)
	}
	key, _ = IssueKeyFromText("first https://t.example/A-1 second https://t.example/B-2")
	if key != "A-1" {
		t.Fatalf("expected the first link to win, got %q", key)
	}
	if _, err := IssueKeyFromText("no links here"); !errors.Is(err, ErrNoIssueLink) {
		t.Fatalf("expected ErrNoIssueLink, got %v", err)
	}
}
