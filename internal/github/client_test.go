package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{BaseURL: server.URL, Token: token, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestFetchProfileLoadsUserAndLanguages(t *testing.T) {
	var sawToken, sawVersion, sawAccept, sawPerPage string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		sawToken = r.Header.Get("Authorization")
		sawVersion = r.Header.Get("X-GitHub-Api-Version")
		sawAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/octocat":
			_, _ = w.Write([]byte(`{"id":583231,"login":"octocat","email":null,"location":"San Francisco","created_at":"2011-01-25T18:44:36Z","public_repos":3}`))
		case "/users/octocat/repos":
			sawPerPage = r.URL.Query().Get("per_page")
			_, _ = w.Write([]byte(`[{"language":"Ruby"},{"language":null},{"language":"Go"}]`))
		default:
			http.NotFound(w, r)
		}
	})
	client := newTestClient(t, server, "secret-token")

	profile, err := client.FetchProfile(context.Background(), "octocat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.User.ID != 583231 || profile.User.Login != "octocat" {
		t.Fatalf("unexpected user %+v", profile.User)
	}
	if profile.User.Email != nil {
		t.Fatalf("expected null email")
	}
	expected := []string{"Ruby", "", "Go"}
	if len(profile.Languages) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, profile.Languages)
	}
	for index := range expected {
		if profile.Languages[index] != expected[index] {
			t.Fatalf("expected %v, got %v", expected, profile.Languages)
		}
	}
	if sawToken != "Bearer secret-token" {
		t.Fatalf("expected bearer token, got %q", sawToken)
	}
	if sawVersion != DefaultAPIVersion || sawAccept != "application/vnd.github+json" {
		t.Fatalf("unexpected headers version=%q accept=%q", sawVersion, sawAccept)
	}
	if sawPerPage != "100" {
		t.Fatalf("expected per_page=100, got %q", sawPerPage)
	}

	record := profile.Record()
	if record.ExternalID == nil || *record.ExternalID != 583231 {
		t.Fatalf("unexpected external id %v", record.ExternalID)
	}
	if record.Location == nil || *record.Location != "San Francisco" {
		t.Fatalf("unexpected location %v", record.Location)
	}
	if record.CreatedAt == nil || !record.CreatedAt.Equal(time.Date(2011, 1, 25, 18, 44, 36, 0, time.UTC)) {
		t.Fatalf("unexpected created at %v", record.CreatedAt)
	}
}

func TestFetchProfileSkipsRepositoriesWhenNonePublic(t *testing.T) {
	repoCalls := 0
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/empty/repos" {
			repoCalls++
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected anonymous request without token")
		}
		_, _ = w.Write([]byte(`{"id":1,"login":"empty","location":null,"public_repos":0}`))
	})
	client := newTestClient(t, server, "")

	profile, err := client.FetchProfile(context.Background(), "empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repoCalls != 0 {
		t.Fatalf("expected no repository request, got %d", repoCalls)
	}
	if profile.Languages == nil || len(profile.Languages) != 0 {
		t.Fatalf("expected empty language list, got %v", profile.Languages)
	}
	record := profile.Record()
	if record.Location == nil || *record.Location != "" {
		t.Fatalf("expected null location mapped to empty string, got %v", record.Location)
	}
	if record.CreatedAt != nil {
		t.Fatalf("expected missing created_at to be left to the store default")
	}
}

func TestFetchUserReportsStatus(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/ghost":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
		}
	})
	client := newTestClient(t, server, "")

	if _, err := client.FetchUser(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err := client.FetchUser(context.Background(), "limited")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Body == "" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"octocat", "a", "user-1", "A1b2C3"}
	for _, username := range valid {
		if err := ValidateUsername(username); err != nil {
			t.Fatalf("expected %q to be valid, got %v", username, err)
		}
	}
	invalid := []string{"", "-leading", "trailing-", "double--dash", "under_score", "forty-characters-is-one-too-many-for-git"}
	for _, username := range invalid {
		if err := ValidateUsername(username); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("expected %q to be rejected, got %v", username, err)
		}
	}
}

func TestNewClientRejectsRelativeBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{BaseURL: "api.github.com"}); err == nil {
		t.Fatalf("expected relative base url to be rejected")
	}
	client, err := NewClient(ClientConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.baseURL.String() != DefaultBaseURL || client.apiVersion != DefaultAPIVersion {
		t.Fatalf("unexpected defaults %s %s", client.baseURL, client.apiVersion)
	}
}

func TestFetchRepositoryLanguagesFollowsNextLinks(t *testing.T) {
	var pages []string
	var server *httptest.Server
	server = newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if r.URL.Query().Get("per_page") != "100" {
			t.Errorf("expected per_page=100 on every page, got %q", r.URL.RawQuery)
		}
		switch page {
		case "":
			w.Header().Set("Link", `<`+server.URL+`/users/prolific/repos?per_page=100&page=2>; rel="next", <`+server.URL+`/users/prolific/repos?per_page=100&page=3>; rel="last"`)
			_, _ = w.Write([]byte(`[{"language":"Go"},{"language":null}]`))
		case "2":
			w.Header().Set("Link", `<`+server.URL+`/users/prolific/repos?per_page=100&page=3>; rel="next", <`+server.URL+`/users/prolific/repos?per_page=100&page=1>; rel="first"`)
			_, _ = w.Write([]byte(`[{"language":"Rust"}]`))
		case "3":
			w.Header().Set("Link", `<`+server.URL+`/users/prolific/repos?per_page=100&page=2>; rel="prev"`)
			_, _ = w.Write([]byte(`[{"language":"Zig"}]`))
		default:
			t.Errorf("unexpected page %q", page)
		}
	})
	client := newTestClient(t, server, "secret-token")

	languages, err := client.FetchRepositoryLanguages(context.Background(), "prolific")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"Go", "", "Rust", "Zig"}
	if len(languages) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, languages)
	}
	for index := range expected {
		if languages[index] != expected[index] {
			t.Fatalf("expected %v, got %v", expected, languages)
		}
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 page requests, got %v", pages)
	}
}

func TestFetchRepositoryLanguagesRejectsForeignNextLink(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<https://elsewhere.example.com/repos?page=2>; rel="next"`)
		_, _ = w.Write([]byte(`[{"language":"Go"}]`))
	})
	client := newTestClient(t, server, "secret-token")

	if _, err := client.FetchRepositoryLanguages(context.Background(), "octocat"); err == nil {
		t.Fatalf("expected next link to another host to be rejected")
	}
}

func TestFetchRepositoryLanguagesStopsOnPaginationLoop(t *testing.T) {
	var server *httptest.Server
	server = newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<`+server.URL+`/users/looping/repos?per_page=100>; rel="next"`)
		_, _ = w.Write([]byte(`[]`))
	})
	client := newTestClient(t, server, "")

	if _, err := client.FetchRepositoryLanguages(context.Background(), "looping"); err == nil {
		t.Fatalf("expected a repeated next link to fail")
	}
}
