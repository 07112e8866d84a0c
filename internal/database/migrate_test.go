package database

import "testing"

func TestMigrationsAreOrdered(t *testing.T) {
	seen := make(map[int]bool)
	prev := 0
	for _, m := range Migrations {
		if m.Version <= prev {
			t.Fatalf("migration %d (%s) is not after %d", m.Version, m.Name, prev)
		}
		if seen[m.Version] {
			t.Fatalf("duplicate migration version %d", m.Version)
		}
		if m.SQL == "" || m.Name == "" {
			t.Fatalf("migration %d is missing a name or statement", m.Version)
		}
		seen[m.Version] = true
		prev = m.Version
	}
}
