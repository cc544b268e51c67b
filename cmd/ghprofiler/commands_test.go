package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghprofiler/ghprofiler/internal/database"
	"github.com/ghprofiler/ghprofiler/internal/github"
	"github.com/ghprofiler/ghprofiler/internal/profiles"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type stubFetcher struct {
	profiles map[string]github.Profile
	calls    int
}

func (s *stubFetcher) FetchProfile(_ context.Context, username string) (github.Profile, error) {
	s.calls++
	profile, ok := s.profiles[username]
	if !ok {
		return github.Profile{}, github.ErrUserNotFound
	}
	return profile, nil
}

type failingQuerier struct {
	err error
}

func (f failingQuerier) Query(context.Context, profiles.Criterion) ([]profiles.UserWithLanguages, error) {
	return nil, f.err
}

func newCommandTestService(t *testing.T) *profiles.Service {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := database.Open(database.Options{Driver: database.DriverSQLite, DSN: dsn, LogLevel: "silent"}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	service, err := profiles.NewService(profiles.ServiceConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func octocatFetcher() *stubFetcher {
	location := "San Francisco"
	return &stubFetcher{profiles: map[string]github.Profile{
		"octocat": {
			User: github.User{
				ID:          583231,
				Login:       "octocat",
				Location:    &location,
				CreatedAt:   time.Date(2011, 1, 25, 18, 44, 36, 0, time.UTC),
				PublicRepos: 3,
			},
			Languages: []string{"Ruby", "", "Go", "Ruby"},
		},
	}}
}

func TestFetchUserReportsEachOutcome(t *testing.T) {
	service := newCommandTestService(t)
	fetcher := octocatFetcher()
	ctx := context.Background()

	var out bytes.Buffer
	if err := fetchUser(ctx, &out, fetcher, service, zap.NewNop(), "octocat"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "User octocat stored with id ") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := fetchUser(ctx, &out, fetcher, service, zap.NewNop(), "octocat"); err != nil {
		t.Fatalf("expected duplicate to be handled, got %v", err)
	}
	if strings.TrimSpace(out.String()) != messageUserExists {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := fetchUser(ctx, &out, fetcher, service, zap.NewNop(), "ghost"); err != nil {
		t.Fatalf("expected not found to be handled, got %v", err)
	}
	if strings.TrimSpace(out.String()) != messageUserNotFound {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestFetchUserRejectsInvalidUsernameBeforeFetching(t *testing.T) {
	fetcher := octocatFetcher()
	var out bytes.Buffer

	err := fetchUser(context.Background(), &out, fetcher, nil, zap.NewNop(), "bad--name")
	if !errors.Is(err, github.ErrInvalidUsername) {
		t.Fatalf("expected invalid username error, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no fetch for invalid username")
	}
}

func TestListUsersPrintsTable(t *testing.T) {
	service := newCommandTestService(t)
	if err := fetchUser(context.Background(), &bytes.Buffer{}, octocatFetcher(), service, zap.NewNop(), "octocat"); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	var out bytes.Buffer
	if err := listUsers(context.Background(), &out, service, listOptions{languages: []string{"Go", "Ruby"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", out.String())
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "LANGUAGES") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	for _, expected := range []string{"octocat", "San Francisco", "2011-01-25T18:44:36Z", "Go, Ruby"} {
		if !strings.Contains(lines[1], expected) {
			t.Fatalf("expected row to contain %q, got %q", expected, lines[1])
		}
	}

	out.Reset()
	if err := listUsers(context.Background(), &out, service, listOptions{location: "Berlin"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "No users found" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestListUsersRejectsCallerErrors(t *testing.T) {
	service := newCommandTestService(t)

	tests := []struct {
		name     string
		options  listOptions
		expected error
	}{
		{name: "location-pattern", options: listOptions{location: "Berlin; DROP"}, expected: errInvalidLocation},
		{name: "conflicting", options: listOptions{location: "Berlin", languages: []string{"Go"}}, expected: errConflictingFilters},
		{name: "non-numeric-id", options: listOptions{id: "abc"}, expected: profiles.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := listUsers(context.Background(), &out, service, tt.options)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, err)
			}
			if out.Len() != 0 {
				t.Fatalf("expected no table output, got %q", out.String())
			}
		})
	}
}

func TestListUsersPrintsErrorRowOnStoreFailure(t *testing.T) {
	failure := errors.New("profiles.query.query_failed: connection refused")
	var out bytes.Buffer

	err := listUsers(context.Background(), &out, failingQuerier{err: failure}, listOptions{})
	if !errors.Is(err, failure) {
		t.Fatalf("expected store failure, got %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || lines[0] != "ERROR" || !strings.Contains(lines[1], "connection refused") {
		t.Fatalf("unexpected error table %q", out.String())
	}
}

func TestReadConfigFileReportsNamedFileProblems(t *testing.T) {
	dir := t.TempDir()
	malformed := filepath.Join(dir, "malformed.yaml")
	if err := os.WriteFile(malformed, []byte("database: [unclosed\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	for name, path := range map[string]string{
		"missing":   filepath.Join(dir, "absent.yaml"),
		"malformed": malformed,
	} {
		t.Run(name, func(t *testing.T) {
			if err := readConfigFile(viper.New(), path); err == nil {
				t.Fatalf("expected an error for %s config file", name)
			}
		})
	}
}

func TestReadConfigFileLoadsNamedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghprofiler.yaml")
	contents := "database:\n  driver: sqlite\n  dsn: profiles.db\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	configViper := viper.New()
	if err := readConfigFile(configViper, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if configViper.GetString("database.dsn") != "profiles.db" {
		t.Fatalf("expected dsn from file, got %q", configViper.GetString("database.dsn"))
	}
}

func TestReadConfigFileWithoutNamedFileIsOptional(t *testing.T) {
	if err := readConfigFile(viper.New(), ""); err != nil {
		t.Fatalf("expected no error when no config file is named, got %v", err)
	}
}
