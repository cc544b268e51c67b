package profiles

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// Criterion selects users for Query. A nil Criterion selects every user that has
// at least one language.
type Criterion interface {
	scope() (func(*gorm.DB) *gorm.DB, error)
}

// FieldMatch selects users whose column equals Value.
type FieldMatch struct {
	Column string
	Value  string
}

// LanguageSet selects users linked to every one of Names.
type LanguageSet struct {
	Names []string
}

const (
	// FieldLocation matches users.location.
	FieldLocation = "location"
	// FieldID matches users.id.
	FieldID = "id"
	// FieldUsername matches users.username.
	FieldUsername = "username"
)

type fieldFilter struct {
	condition string
	bind      func(string) (interface{}, error)
}

// Column names cannot be bound as parameters, so each searchable field maps to a
// literal condition. Anything not listed here is rejected.
var searchableFields = map[string]fieldFilter{
	FieldLocation: {condition: "users.location = ?", bind: bindText},
	FieldID:       {condition: "users.id = ?", bind: bindIdentifier},
	FieldUsername: {condition: "users.username = ?", bind: bindText},
}

// SearchableFields returns the allow-listed column names.
func SearchableFields() []string {
	return []string{FieldLocation, FieldID, FieldUsername}
}

func bindText(value string) (interface{}, error) {
	return value, nil
}

func bindIdentifier(value string) (interface{}, error) {
	identifier, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: id must be an integer", ErrInvalidValue)
	}
	return identifier, nil
}

func (match FieldMatch) scope() (func(*gorm.DB) *gorm.DB, error) {
	filter, ok := searchableFields[strings.ToLower(strings.TrimSpace(match.Column))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidColumn, match.Column)
	}
	value, err := filter.bind(match.Value)
	if err != nil {
		return nil, err
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(filter.condition, value)
	}, nil
}

func (set LanguageSet) scope() (func(*gorm.DB) *gorm.DB, error) {
	names := NormalizeLanguageNames(set.Names)
	if len(names) == 0 {
		return nil, ErrEmptyLanguageSet
	}
	return func(db *gorm.DB) *gorm.DB {
		// A user qualifies only when every requested name matched one of its rows.
		matching := db.Session(&gorm.Session{NewDB: true}).
			Table(tableUserLanguages).
			Select("user_languages.user_id").
			Joins("JOIN languages ON languages.id = user_languages.language_id").
			Where("languages.name IN ?", names).
			Group("user_languages.user_id").
			Having("COUNT(DISTINCT languages.name) = ?", len(names))
		return db.Where("users.id IN (?)", matching)
	}, nil
}

func compileCriterion(criterion Criterion) (func(*gorm.DB) *gorm.DB, error) {
	if criterion == nil {
		return func(db *gorm.DB) *gorm.DB { return db }, nil
	}
	return criterion.scope()
}
