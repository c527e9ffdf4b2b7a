package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/metadata"
)

func seedViolation(t *testing.T, cfg *config.Config) {
	t.Helper()
	meta, err := metadata.Open(cfg.Metadata, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = meta.Close() }()

	require.NoError(t, meta.Migrate(context.Background()))
	require.NoError(t, meta.CreateManager(context.Background(), &metadata.ManagerProfile{
		Name:     "alice",
		Accounts: datatypes.JSON(`[1001]`),
	}))
}
