package db

import (
	"strings"
	"testing"
)

func TestConvertToMigrateURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "postgres://u:p@host:5432/db?sslmode=disable", want: "pgx5://u:p@host:5432/db?sslmode=disable"},
		{in: "postgresql://u:p@host/db", want: "pgx5://u:p@host/db"},
		{in: "mysql://u:p@host/db", wantErr: true},
	}

	for _, tt := range tests {
		got, err := convertToMigrateURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("convertToMigrateURL(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("convertToMigrateURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("convertToMigrateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("reading embedded migrations: %v", err)
	}
	var ups, downs int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Errorf("unbalanced migrations: %d up, %d down", ups, downs)
	}
}
