package profiles

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	tableUsers         = "users"
	tableLanguages     = "languages"
	tableUserLanguages = "user_languages"

	columnExternalID = "external_id"
	columnUsername   = "username"
	columnEmail      = "email"
	columnLocation   = "location"
	columnCreatedAt  = "created_at"

	maxUsernameLength = 50
)

var (
	// ErrMissingUsername indicates that a user record did not carry a username.
	ErrMissingUsername = errors.New("profiles: username is required")
	// ErrUsernameTooLong indicates that a username exceeds the column bounds.
	ErrUsernameTooLong = errors.New("profiles: username too long")
)

// User is the persisted identity row.
type User struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ExternalID *int64    `gorm:"column:external_id;uniqueIndex:users_external_id_key"`
	Username   string    `gorm:"column:username;size:50;not null;uniqueIndex:users_username_key"`
	Email      *string   `gorm:"column:email;size:255;uniqueIndex:users_email_key"`
	Location   string    `gorm:"column:location;size:255;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return tableUsers
}

// Language is an entry of the shared language catalog.
type Language struct {
	ID   int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;size:50;not null;uniqueIndex:languages_name_key"`
}

// TableName provides the explicit table binding for GORM.
func (Language) TableName() string {
	return tableLanguages
}

// UserLanguage links a user to a language of the catalog.
type UserLanguage struct {
	UserID     int64    `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	LanguageID int64    `gorm:"column:language_id;primaryKey;autoIncrement:false;index"`
	User       User     `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	Language   Language `gorm:"foreignKey:LanguageID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (UserLanguage) TableName() string {
	return tableUserLanguages
}

// Models lists every model backing the profile schema, in dependency order.
func Models() []interface{} {
	return []interface{}{&User{}, &Language{}, &UserLanguage{}}
}

// UserRecord is a candidate user supplied to Ingest. Nil fields are not written,
// so the store default (or NULL) applies to their columns.
type UserRecord struct {
	ExternalID *int64
	Username   string
	Email      *string
	Location   *string
	CreatedAt  *time.Time
}

// insertable returns the row to create together with the columns that were supplied.
func (record UserRecord) insertable() (User, []string, error) {
	username := strings.TrimSpace(record.Username)
	if username == "" {
		return User{}, nil, ErrMissingUsername
	}
	if len(username) > maxUsernameLength {
		return User{}, nil, fmt.Errorf("%w: exceeds %d characters", ErrUsernameTooLong, maxUsernameLength)
	}

	row := User{Username: username}
	columns := []string{columnUsername}
	if record.ExternalID != nil {
		row.ExternalID = record.ExternalID
		columns = append(columns, columnExternalID)
	}
	if record.Email != nil {
		row.Email = record.Email
		columns = append(columns, columnEmail)
	}
	if record.Location != nil {
		row.Location = *record.Location
		columns = append(columns, columnLocation)
	}
	if record.CreatedAt != nil {
		row.CreatedAt = record.CreatedAt.UTC()
		columns = append(columns, columnCreatedAt)
	}
	return row, columns, nil
}

// UserWithLanguages is a stored user enriched with the distinct languages linked to it.
type UserWithLanguages struct {
	ID         int64     `json:"id"`
	ExternalID *int64    `json:"external_id"`
	Username   string    `json:"username"`
	Email      *string   `json:"email"`
	Location   string    `json:"location"`
	CreatedAt  time.Time `json:"created_at"`
	Languages  []string  `json:"languages"`
}

func newUserWithLanguages(user User, languages []string) UserWithLanguages {
	return UserWithLanguages{
		ID:         user.ID,
		ExternalID: user.ExternalID,
		Username:   user.Username,
		Email:      user.Email,
		Location:   user.Location,
		CreatedAt:  user.CreatedAt,
		Languages:  languages,
	}
}
