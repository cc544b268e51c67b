package profiles

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate profile schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	service, err := NewService(ServiceConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func stringPointer(value string) *string {
	return &value
}

func int64Pointer(value int64) *int64 {
	return &value
}

func testRecord(username string, externalID int64, location string) UserRecord {
	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return UserRecord{
		ExternalID: int64Pointer(externalID),
		Username:   username,
		Email:      stringPointer(username + "@example.com"),
		Location:   stringPointer(location),
		CreatedAt:  &createdAt,
	}
}

func mustIngest(t *testing.T, service *Service, record UserRecord, languages []string) UserWithLanguages {
	t.Helper()
	ingested, err := service.Ingest(context.Background(), record, languages)
	if err != nil {
		t.Fatalf("unexpected ingest error for %s: %v", record.Username, err)
	}
	return ingested
}

func sortedCopy(values []string) []string {
	copied := append([]string(nil), values...)
	sort.Strings(copied)
	return copied
}

func equalStringSets(left, right []string) bool {
	sortedLeft := sortedCopy(left)
	sortedRight := sortedCopy(right)
	if len(sortedLeft) != len(sortedRight) {
		return false
	}
	for index := range sortedLeft {
		if sortedLeft[index] != sortedRight[index] {
			return false
		}
	}
	return true
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}

func usernames(users []UserWithLanguages) []string {
	names := make([]string, 0, len(users))
	for _, user := range users {
		names = append(names, user.Username)
	}
	return names
}
