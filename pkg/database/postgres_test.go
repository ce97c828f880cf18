package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.Password = "secret"

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=ticket_monitor sslmode=disable",
		cfg.DSN())
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "domain_events_aggregate_version_key"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "other sqlstate", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "any constraint", err: unique, want: true},
		{name: "wrapped", err: fmt.Errorf("insert: %w", unique), want: true},
		{name: "matching constraint", err: unique, constraint: "domain_events_aggregate_version_key", want: true},
		{name: "other constraint", err: unique, constraint: "scraping_jobs_active_key", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err, tt.constraint))
		})
	}
}
