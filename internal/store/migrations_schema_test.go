package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", name))
	if err != nil {
		t.Fatalf("read migration %s: %v", name, err)
	}
	return string(data)
}

func TestPortalSlugUniquePerOrganization(t *testing.T) {
	sqlText := readMigration(t, "0004_portals.up.sql")
	if !strings.Contains(sqlText, "UNIQUE (org_id, slug)") {
		t.Fatal("portals must be unique on (org_id, slug)")
	}
}

func TestAcknowledgmentUniquenessConstraints(t *testing.T) {
	sqlText := readMigration(t, "0007_acknowledgments.up.sql")
	if !strings.Contains(sqlText, "UNIQUE (policy_id, user_id)") {
		t.Fatal("user acknowledgments must be unique per (policy, user)")
	}
	if !strings.Contains(sqlText, "UNIQUE (portal_id, policy_id, email)") {
		t.Fatal("email acknowledgments must be unique per (portal, policy, email)")
	}
}

func TestPoliciesCarryFullTextIndex(t *testing.T) {
	sqlText := readMigration(t, "0005_policies.up.sql")
	if !strings.Contains(sqlText, "TSVECTOR GENERATED ALWAYS") {
		t.Fatal("policies need a generated tsvector column")
	}
	if !strings.Contains(sqlText, "USING GIN (fts)") {
		t.Fatal("policies need a GIN index on fts")
	}
}
