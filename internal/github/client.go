package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ghprofiler/ghprofiler/internal/profiles"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"
	// DefaultAPIVersion is sent as X-GitHub-Api-Version.
	DefaultAPIVersion = "2022-11-28"

	headerAPIVersion  = "X-GitHub-Api-Version"
	headerLink        = "Link"
	mediaTypeGitHub   = "application/vnd.github+json"
	repositoryPerPage = "100"
	defaultTimeout    = 15 * time.Second
	maxUsernameLength = 39
	maxErrorBodyBytes = 512
)

var (
	// ErrUserNotFound indicates GitHub has no account with the requested login.
	ErrUserNotFound = errors.New("github: user not found")
	// ErrInvalidUsername indicates a login GitHub would never accept.
	ErrInvalidUsername = errors.New("github: invalid username")

	usernamePattern = regexp.MustCompile(`^[A-Za-z\d](?:[A-Za-z\d]|-[A-Za-z\d]){0,38}$`)
)

// APIError reports an unexpected response status.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s returned status %d", e.Path, e.StatusCode)
}

// User is the subset of the GitHub user resource that gets persisted.
type User struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	Email       *string   `json:"email"`
	Location    *string   `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
	PublicRepos int       `json:"public_repos"`
}

type repository struct {
	Language *string `json:"language"`
}

// Profile is a GitHub user together with the primary language of each public repository.
type Profile struct {
	User      User
	Languages []string
}

// Record converts the profile into the row handed to the profile service.
// GitHub reports a missing location as null; it is stored as an empty string.
func (p Profile) Record() profiles.UserRecord {
	externalID := p.User.ID
	location := ""
	if p.User.Location != nil {
		location = *p.User.Location
	}
	record := profiles.UserRecord{
		ExternalID: &externalID,
		Username:   p.User.Login,
		Email:      p.User.Email,
		Location:   &location,
	}
	if !p.User.CreatedAt.IsZero() {
		createdAt := p.User.CreatedAt.UTC()
		record.CreatedAt = &createdAt
	}
	return record
}

// ValidateUsername rejects logins that do not follow GitHub's naming rules.
func ValidateUsername(username string) error {
	if len(username) > maxUsernameLength || !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}

// ClientConfig configures the GitHub REST client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	APIVersion string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client reads user profiles from the GitHub REST API.
type Client struct {
	baseURL    *url.URL
	apiVersion string
	httpClient *http.Client
}

// NewClient validates the configuration and constructs a Client. A non-empty token
// authenticates every request.
func NewClient(cfg ClientConfig) (*Client, error) {
	rawBaseURL := strings.TrimSpace(cfg.BaseURL)
	if rawBaseURL == "" {
		rawBaseURL = DefaultBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(rawBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("github: invalid base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("github: base url %q must be absolute", rawBaseURL)
	}

	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		httpClient = &copied
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		base := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient.Timeout = timeout

	return &Client{baseURL: baseURL, apiVersion: apiVersion, httpClient: httpClient}, nil
}

// FetchUser loads the user resource for username.
func (c *Client) FetchUser(ctx context.Context, username string) (User, error) {
	var user User
	if err := c.get(ctx, "/users/"+url.PathEscape(username), nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// FetchRepositoryLanguages returns the primary language of each public repository
// of username, in API order, following pagination until the last page. Repositories
// without a language yield "".
func (c *Client) FetchRepositoryLanguages(ctx context.Context, username string) ([]string, error) {
	path := "/users/" + url.PathEscape(username) + "/repos"
	next := c.endpoint(path, url.Values{"per_page": []string{repositoryPerPage}})

	languages := []string{}
	visited := map[string]struct{}{}
	for next != "" {
		if _, ok := visited[next]; ok {
			return nil, fmt.Errorf("github: pagination of %s revisits %s", path, next)
		}
		visited[next] = struct{}{}

		var repositories []repository
		var err error
		next, err = c.getURL(ctx, next, path, &repositories)
		if err != nil {
			return nil, err
		}
		for _, repo := range repositories {
			if repo.Language == nil {
				languages = append(languages, "")
				continue
			}
			languages = append(languages, *repo.Language)
		}
	}
	return languages, nil
}

// FetchProfile loads the user and, when it has public repositories, their languages.
func (c *Client) FetchProfile(ctx context.Context, username string) (Profile, error) {
	user, err := c.FetchUser(ctx, username)
	if err != nil {
		return Profile{}, err
	}
	profile := Profile{User: user, Languages: []string{}}
	if user.PublicRepos == 0 {
		return profile, nil
	}
	languages, err := c.FetchRepositoryLanguages(ctx, username)
	if err != nil {
		return Profile{}, err
	}
	profile.Languages = languages
	return profile, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, target interface{}) error {
	_, err := c.getURL(ctx, c.endpoint(path, query), path, target)
	return err
}

func (c *Client) endpoint(path string, query url.Values) string {
	endpoint := *c.baseURL
	endpoint.Path = c.baseURL.Path + path
	endpoint.RawQuery = query.Encode()
	return endpoint.String()
}

// getURL decodes the response into target and returns the rel="next" link, if any.
func (c *Client) getURL(ctx context.Context, endpoint, path string, target interface{}) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("github: building request: %w", err)
	}
	request.Header.Set("Accept", mediaTypeGitHub)
	request.Header.Set(headerAPIVersion, c.apiVersion)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("github: calling %s: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return "", ErrUserNotFound
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return "", &APIError{StatusCode: response.StatusCode, Path: path, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return "", fmt.Errorf("github: decoding %s: %w", path, err)
	}
	return c.nextPage(response.Header.Get(headerLink))
}

// nextPage extracts rel="next" from a Link header. The token is only ever sent to
// the configured host.
func (c *Client) nextPage(link string) (string, error) {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		target := strings.TrimSpace(segments[0])
		if len(segments) < 2 || !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		isNext := false
		for _, parameter := range segments[1:] {
			if strings.TrimSpace(parameter) == `rel="next"` {
				isNext = true
			}
		}
		if !isNext {
			continue
		}
		next, err := c.baseURL.Parse(strings.Trim(target, "<>"))
		if err != nil {
			return "", fmt.Errorf("github: invalid next page link: %w", err)
		}
		if next.Scheme != c.baseURL.Scheme || next.Host != c.baseURL.Host {
			return "", fmt.Errorf("github: next page link %q leaves %s", next.String(), c.baseURL.Host)
		}
		return next.String(), nil
	}
	return "", nil
}
