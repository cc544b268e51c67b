package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ghprofiler/ghprofiler/internal/profiles"
	"github.com/spf13/cobra"
)

var (
	errConflictingFilters = errors.New("use only one of --location, --username, --id or --language")
	errInvalidLocation    = errors.New("location may contain only letters, spaces and commas")

	locationPattern = regexp.MustCompile(`^[A-Za-z\s,]+$`)
)

type profileQuerier interface {
	Query(ctx context.Context, criterion profiles.Criterion) ([]profiles.UserWithLanguages, error)
}

type listOptions struct {
	location  string
	username  string
	id        string
	languages []string
}

func newListCommand() *cobra.Command {
	var options listOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored users, optionally filtered by location, username, id or languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication()
			if err != nil {
				return err
			}
			defer app.Close()
			return listUsers(cmd.Context(), cmd.OutOrStdout(), app.profiles, options)
		},
	}
	cmd.Flags().StringVarP(&options.location, "location", "l", "", "Only users from this location")
	cmd.Flags().StringVar(&options.username, "username", "", "Only the user with this username")
	cmd.Flags().StringVar(&options.id, "id", "", "Only the user with this id")
	cmd.Flags().StringArrayVar(&options.languages, "language", nil, "Only users using this language (repeatable, all must match)")
	return cmd
}

func (o listOptions) criterion() (profiles.Criterion, error) {
	var criteria []profiles.Criterion
	if o.location != "" {
		if !locationPattern.MatchString(o.location) {
			return nil, errInvalidLocation
		}
		criteria = append(criteria, profiles.FieldMatch{Column: profiles.FieldLocation, Value: o.location})
	}
	if o.username != "" {
		criteria = append(criteria, profiles.FieldMatch{Column: profiles.FieldUsername, Value: o.username})
	}
	if o.id != "" {
		criteria = append(criteria, profiles.FieldMatch{Column: profiles.FieldID, Value: o.id})
	}
	if len(o.languages) > 0 {
		criteria = append(criteria, profiles.LanguageSet{Names: o.languages})
	}
	switch len(criteria) {
	case 0:
		return nil, nil
	case 1:
		return criteria[0], nil
	default:
		return nil, errConflictingFilters
	}
}

// listUsers renders a store failure as a single error row and returns its error.
func listUsers(ctx context.Context, out io.Writer, querier profileQuerier, options listOptions) error {
	criterion, err := options.criterion()
	if err != nil {
		return err
	}

	users, err := querier.Query(ctx, criterion)
	if errors.Is(err, profiles.ErrInvalidColumn) || errors.Is(err, profiles.ErrInvalidValue) || errors.Is(err, profiles.ErrEmptyLanguageSet) {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err != nil {
		fmt.Fprintln(writer, "ERROR")
		fmt.Fprintln(writer, err.Error())
		_ = writer.Flush()
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(out, "No users found")
		return nil
	}

	fmt.Fprintln(writer, "ID\tUSERNAME\tLOCATION\tEMAIL\tCREATED AT\tLANGUAGES")
	for _, user := range users {
		email := ""
		if user.Email != nil {
			email = *user.Email
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
			user.ID,
			user.Username,
			user.Location,
			email,
			user.CreatedAt.UTC().Format(time.RFC3339),
			strings.Join(user.Languages, ", "))
	}
	return writer.Flush()
}
