package database

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodconnect/platform/internal/shared/config"
)

func testDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "bloodconnect", Password: "secret",
		Database: "bloodconnect", SSLMode: "disable",
	}
}

func TestPoolConfig(t *testing.T) {
	tests := []struct {
		name     string
		max, min int
		wantMax  int32
		wantMin  int32
	}{
		{"defaults", 0, 0, 10, 1},
		{"configured", 20, 4, 20, 4},
		{"min above max falls back", 3, 8, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testDatabaseConfig()
			cfg.MaxConns, cfg.MinConns = tt.max, tt.min

			pc, err := PoolConfig(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMax, pc.MaxConns)
			assert.Equal(t, tt.wantMin, pc.MinConns)
			assert.Equal(t, "bloodconnect,public", pc.ConnConfig.RuntimeParams["search_path"])
			assert.Equal(t, "bloodconnect", pc.ConnConfig.Database)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "blood_requests_pkey"}

	assert.True(t, IsUniqueViolation(dup))
	assert.True(t, IsUniqueViolation(fmt.Errorf("save: %w", dup)))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(fmt.Errorf("duplicate key value")))
	assert.False(t, IsUniqueViolation(nil))
}
