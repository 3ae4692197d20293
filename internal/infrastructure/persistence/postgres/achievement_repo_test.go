package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/gamification/internal/domain/achievement"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
)

func TestMapAwardError(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "user_achievements_pkey"}
	foreignKey := &pgconn.PgError{Code: "23503", ConstraintName: "user_achievements_user_id_fkey"}

	tests := []struct {
		name        string
		err         error
		wantNil     bool
		wantIs      error
		notIs       error
		unique      bool
		foreignKey  bool
		retryable   bool
		messagePart string
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "unique violation", err: unique, wantIs: achievement.ErrDuplicateAward, unique: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert award: %w", unique), wantIs: achievement.ErrDuplicateAward, unique: true},
		{name: "foreign key violation", err: foreignKey, wantIs: profile.ErrProfileMissing, notIs: achievement.ErrDuplicateAward, foreignKey: true, messagePart: "23503"},
		{name: "wrapped foreign key violation", err: fmt.Errorf("tx: %w", foreignKey), wantIs: profile.ErrProfileMissing, notIs: achievement.ErrDuplicateAward, foreignKey: true},
		{name: "other failure", err: errors.New("connection reset"), notIs: achievement.ErrDuplicateAward, messagePart: "failed to record award: connection reset"},
		{name: "other postgres code", err: &pgconn.PgError{Code: "40001"}, notIs: achievement.ErrDuplicateAward},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueViolation(tt.err))
			assert.Equal(t, tt.foreignKey, IsForeignKeyViolation(tt.err))

			got := mapAwardError(tt.err)
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}
			require.Error(t, got)
			if tt.wantIs != nil {
				assert.ErrorIs(t, got, tt.wantIs)
			}
			if tt.notIs != nil {
				assert.NotErrorIs(t, got, tt.notIs)
			}
			if tt.messagePart != "" {
				assert.Contains(t, got.Error(), tt.messagePart)
			}
		})
	}
}

func TestMapAwardError_Kinds(t *testing.T) {
	dup := mapAwardError(fmt.Errorf("%w", &pgconn.PgError{Code: "23505"}))
	assert.ErrorIs(t, dup, shared.ErrDuplicate)
	assert.False(t, shared.IsNotFound(dup))

	missing := mapAwardError(fmt.Errorf("%w", &pgconn.PgError{Code: "23503"}))
	assert.True(t, shared.IsNotFound(missing))
	assert.NotErrorIs(t, missing, shared.ErrDuplicate)
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, IsNoRows(pgx.ErrNoRows))
	assert.True(t, IsNoRows(fmt.Errorf("get profile: %w", pgx.ErrNoRows)))
	assert.False(t, IsNoRows(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsNoRows(nil))
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	assert.Equal(t,
		"host=localhost port=5432 dbname=gamification user=postgres password=secret sslmode=disable connect_timeout=10",
		cfg.DSN())

	cfg.URL = "postgres://app:pw@db:5433/points?sslmode=require"
	assert.Equal(t, cfg.URL, cfg.DSN())
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "postgres://app:pw@db:5433/points?sslmode=disable"
	cfg.MaxConns = 7
	cfg.MinConns = 1

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(1), pc.MinConns)
	assert.Equal(t, "db", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pc.ConnConfig.Port)
	assert.Equal(t, "points", pc.ConnConfig.Database)

	cfg.URL = "postgres://%zz"
	_, err = cfg.PoolConfig()
	assert.Error(t, err)
}

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, m.Name)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}
}
