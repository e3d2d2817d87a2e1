package repo

import (
	"strings"
	"testing"
)

func TestLoadMigrationsOrdered(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("ожидали как минимум 2 миграции, получили %d", len(migrations))
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].version <= migrations[i-1].version {
			t.Fatalf("миграции не упорядочены: %d после %d", migrations[i].version, migrations[i-1].version)
		}
	}
	if !strings.Contains(migrations[0].sql, "filtered_reactions") {
		t.Fatalf("первая миграция должна создавать filtered_reactions")
	}
}
