package postgres

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "gannbot", User: "bot", Password: "pw"})
	want := "postgres://bot:pw@db:5432/gannbot?sslmode=disable"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}

	explicit := "postgres://x@y/z"
	if got := DSN(ClientConfig{DSN: explicit, Host: "ignored"}); got != explicit {
		t.Fatalf("explicit DSN = %q, want %q", got, explicit)
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("names = %v", names)
	}
	if !slices.IsSorted(names) {
		t.Fatalf("names not sorted: %v", names)
	}
}

func TestPageClause(t *testing.T) {
	since := time.Unix(100, 0)
	q, args := pageClause("SELECT * FROM fills WHERE trader = $1", "executed_at",
		[]any{"alpha"}, &since, nil, 10, 5)

	for _, frag := range []string{"executed_at >= $2", "ORDER BY executed_at DESC", "LIMIT $3", "OFFSET $4"} {
		if !strings.Contains(q, frag) {
			t.Fatalf("query %q missing %q", q, frag)
		}
	}
	if len(args) != 4 || args[0] != "alpha" || args[2] != 10 || args[3] != 5 {
		t.Fatalf("args = %v", args)
	}
}

func TestPageClauseNoFilters(t *testing.T) {
	q, args := pageClause("SELECT 1 FROM audit_log WHERE 1=1", "created_at", nil, nil, nil, 0, 0)
	if strings.Contains(q, "LIMIT") || strings.Contains(q, "$") {
		t.Fatalf("unexpected clauses in %q", q)
	}
	if len(args) != 0 {
		t.Fatalf("args = %v", args)
	}
}
