package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/pkg/config"
)

func TestNew_NotConfigured(t *testing.T) {
	_, err := New(context.Background(), config.DatabaseConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), config.DatabaseConfig{URL: "::not a url::"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}

func TestMigrateAndStats(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if testing.Short() || url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := New(ctx, config.DatabaseConfig{URL: url, MaxConns: 2})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))
	assert.NoError(t, db.Ping(ctx))
	assert.Equal(t, int32(2), db.Stats().MaxConns)
}
