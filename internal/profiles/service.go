package profiles

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var noOpLogger = zap.NewNop()

const (
	opServiceNew = "profiles.service.new"
	opIngest     = "profiles.ingest"
	opQuery      = "profiles.query"

	fieldUserID   = "user_id"
	fieldUsername = "username"

	reasonMissingDatabase      = "missing_database"
	reasonInvalidRecord        = "invalid_record"
	reasonUserInsertFailed     = "user_insert_failed"
	reasonLanguageUpsertFailed = "language_upsert_failed"
	reasonMembershipFailed     = "membership_insert_failed"
	reasonUserReloadFailed     = "user_reload_failed"
	reasonQueryFailed          = "query_failed"
	reasonLanguageLoadFailed   = "language_load_failed"

	membershipExists  = "EXISTS (SELECT 1 FROM user_languages WHERE user_languages.user_id = users.id)"
	orderUserIDAsc    = "users.id ASC"
	orderLanguageName = "languages.name ASC"
)

// ServiceConfig describes the dependencies of the profile service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service ingests profiles and answers profile queries. It holds no mutable state
// and is safe for concurrent use.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Ingest stores the user, its languages and the memberships between them in one
// transaction. It returns ErrDuplicateUser when the external id or username is
// already taken; nothing is written in that case.
func (s *Service) Ingest(ctx context.Context, record UserRecord, languages []string) (UserWithLanguages, error) {
	if s == nil || s.db == nil {
		s.logError(opIngest, reasonMissingDatabase, errMissingDatabase)
		return UserWithLanguages{}, newServiceError(opIngest, reasonMissingDatabase, errMissingDatabase)
	}

	row, columns, err := record.insertable()
	if err != nil {
		return UserWithLanguages{}, newServiceError(opIngest, reasonInvalidRecord, err)
	}

	var ingested UserWithLanguages
	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Select(columns).Create(&row).Error; err != nil {
			if constraint, duplicate := duplicateUserConstraint(err); duplicate {
				return fmt.Errorf("%w: %s", ErrDuplicateUser, constraint.column)
			}
			s.logError(opIngest, reasonUserInsertFailed, err, zap.String(fieldUsername, row.Username))
			return newServiceError(opIngest, reasonUserInsertFailed, err)
		}

		catalog, err := ReconcileLanguages(transaction, languages)
		if err != nil {
			s.logError(opIngest, reasonLanguageUpsertFailed, err, zap.Int64(fieldUserID, row.ID))
			return newServiceError(opIngest, reasonLanguageUpsertFailed, err)
		}

		names := make([]string, 0, len(catalog))
		if len(catalog) > 0 {
			memberships := make([]UserLanguage, 0, len(catalog))
			for _, language := range catalog {
				memberships = append(memberships, UserLanguage{UserID: row.ID, LanguageID: language.ID})
				names = append(names, language.Name)
			}
			if err := transaction.Omit(clause.Associations).Create(&memberships).Error; err != nil {
				s.logError(opIngest, reasonMembershipFailed, err, zap.Int64(fieldUserID, row.ID))
				return newServiceError(opIngest, reasonMembershipFailed, err)
			}
		}

		var stored User
		if err := transaction.Where("id = ?", row.ID).Take(&stored).Error; err != nil {
			s.logError(opIngest, reasonUserReloadFailed, err, zap.Int64(fieldUserID, row.ID))
			return newServiceError(opIngest, reasonUserReloadFailed, err)
		}
		ingested = newUserWithLanguages(stored, names)
		return nil
	})

	if errors.Is(transactionError, ErrDuplicateUser) {
		s.logger.Info("user already exists", zap.String(fieldUsername, row.Username), zap.Error(transactionError))
		return UserWithLanguages{}, transactionError
	}
	if transactionError != nil {
		return UserWithLanguages{}, transactionError
	}

	s.logger.Info("user ingested",
		zap.Int64(fieldUserID, ingested.ID),
		zap.String(fieldUsername, ingested.Username),
		zap.Strings("languages", ingested.Languages))
	return ingested, nil
}

type membershipRow struct {
	UserID int64
	Name   string
}

// Query returns the users selected by criterion, ordered by id, each with its full
// language list. Users without languages are never returned. Invalid criteria are
// rejected before any statement reaches the store.
func (s *Service) Query(ctx context.Context, criterion Criterion) ([]UserWithLanguages, error) {
	if s == nil || s.db == nil {
		s.logError(opQuery, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opQuery, reasonMissingDatabase, errMissingDatabase)
	}

	filter, err := compileCriterion(criterion)
	if err != nil {
		return nil, err
	}

	var results []UserWithLanguages
	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var users []User
		if err := transaction.Model(&User{}).
			Scopes(filter).
			Where(membershipExists).
			Order(orderUserIDAsc).
			Find(&users).Error; err != nil {
			s.logError(opQuery, reasonQueryFailed, err)
			return newServiceError(opQuery, reasonQueryFailed, err)
		}
		if len(users) == 0 {
			return nil
		}

		// The selection is repeated as a subquery; binding every id would exceed the
		// driver's parameter limit on large catalogs.
		selected := transaction.Session(&gorm.Session{NewDB: true}).
			Model(&User{}).
			Select("users.id").
			Scopes(filter).
			Where(membershipExists)

		var rows []membershipRow
		if err := transaction.Table(tableUserLanguages).
			Select("user_languages.user_id AS user_id, languages.name AS name").
			Joins("JOIN languages ON languages.id = user_languages.language_id").
			Where("user_languages.user_id IN (?)", selected).
			Order(orderLanguageName).
			Scan(&rows).Error; err != nil {
			s.logError(opQuery, reasonLanguageLoadFailed, err)
			return newServiceError(opQuery, reasonLanguageLoadFailed, err)
		}

		languagesByUser := make(map[int64][]string, len(users))
		for _, row := range rows {
			languagesByUser[row.UserID] = append(languagesByUser[row.UserID], row.Name)
		}

		results = make([]UserWithLanguages, 0, len(users))
		for _, user := range users {
			languages := languagesByUser[user.ID]
			if len(languages) == 0 {
				continue
			}
			results = append(results, newUserWithLanguages(user, languages))
		}
		return nil
	})
	if transactionError != nil {
		return nil, transactionError
	}
	return results, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("profiles service error", attrs...)
}
