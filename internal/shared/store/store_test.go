package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"STORE_DRIVER":      "sqlite",
		"STORE_SQLITE_PATH": filepath.Join(t.TempDir(), "dispatch.db"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	st, err := Open(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	assert.Equal(t, "sqlite", st.Driver)
	require.NoError(t, st.Ping(ctx))

	err = st.UnitOfWork.WithinTx(ctx, func(txCtx context.Context) error {
		_, err := st.Jobs.GetByID(txCtx, "missing")
		return err
	})
	assert.ErrorIs(t, err, ports.ErrNotFound)

	applied, err := st.Jobs.CancelCAS(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: "mysql"}}
	_, err := Open(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}
