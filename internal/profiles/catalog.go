package profiles

import (
	"fmt"

	"gorm.io/gorm"
)

// The no-op assignment makes RETURNING yield the existing id on conflict.
const upsertLanguageSQL = `INSERT INTO languages (name) VALUES (?)
ON CONFLICT (name) DO UPDATE SET name = excluded.name
RETURNING id`

// NormalizeLanguageNames drops empty entries and repeated names (case-sensitive),
// keeping the first occurrence of each.
func NormalizeLanguageNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	return normalized
}

// ReconcileLanguages resolves every usable name to its catalog entry, creating the
// entries that do not exist yet. It must run inside the caller's transaction.
func ReconcileLanguages(transaction *gorm.DB, names []string) ([]Language, error) {
	normalized := NormalizeLanguageNames(names)
	languages := make([]Language, 0, len(normalized))
	for _, name := range normalized {
		var languageID int64
		result := transaction.Raw(upsertLanguageSQL, name).Scan(&languageID)
		if result.Error != nil {
			return nil, fmt.Errorf("upsert language %q: %w", name, result.Error)
		}
		if result.RowsAffected == 0 || languageID == 0 {
			return nil, fmt.Errorf("upsert language %q: no id returned", name)
		}
		languages = append(languages, Language{ID: languageID, Name: name})
	}
	return languages, nil
}
