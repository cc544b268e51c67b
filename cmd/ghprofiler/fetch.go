package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ghprofiler/ghprofiler/internal/github"
	"github.com/ghprofiler/ghprofiler/internal/profiles"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	messageUserExists   = "User already exists"
	messageUserNotFound = "User not found"
)

type profileFetcher interface {
	FetchProfile(ctx context.Context, username string) (github.Profile, error)
}

type profileIngester interface {
	Ingest(ctx context.Context, record profiles.UserRecord, languages []string) (profiles.UserWithLanguages, error)
}

func newFetchCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a GitHub user and store it with its repository languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()

			client, err := github.NewClient(github.ClientConfig{
				BaseURL:    app.config.GitHubBaseURL,
				Token:      app.config.GitHubToken,
				APIVersion: app.config.GitHubAPIVersion,
				Timeout:    time.Duration(app.config.GitHubTimeoutSeconds) * time.Second,
			})
			if err != nil {
				return err
			}
			return fetchUser(cmd.Context(), cmd.OutOrStdout(), client, app.profiles, app.logger, username)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "GitHub username to fetch")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// fetchUser reports an existing or unknown user as a message, not as a failure.
func fetchUser(ctx context.Context, out io.Writer, fetcher profileFetcher, ingester profileIngester, logger *zap.Logger, username string) error {
	if err := github.ValidateUsername(username); err != nil {
		return err
	}

	profile, err := fetcher.FetchProfile(ctx, username)
	if errors.Is(err, github.ErrUserNotFound) {
		fmt.Fprintln(out, messageUserNotFound)
		return nil
	}
	if err != nil {
		return err
	}

	stored, err := ingester.Ingest(ctx, profile.Record(), profile.Languages)
	if errors.Is(err, profiles.ErrDuplicateUser) {
		fmt.Fprintln(out, messageUserExists)
		return nil
	}
	if err != nil {
		logger.Error("failed to store user", zap.String("username", username), zap.Error(err))
		return err
	}

	fmt.Fprintf(out, "User %s stored with id %d\n", stored.Username, stored.ID)
	return nil
}
