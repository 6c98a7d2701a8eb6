package postgrestest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/datalens-labs/datalens/pkg/testutil"
)

func TestPostgresTest_NewDBSurvivesStartPanic(t *testing.T) {
	orig := runPostgres
	t.Cleanup(func() { runPostgres = orig })

	// Without a reachable Docker host testcontainers panics instead of
	// returning an error. NewDB must turn that into an error so callers can
	// skip their integration tests.
	runPostgres = func(ctx context.Context, img string, opts ...testcontainers.ContainerCustomizer) (*tcpostgres.PostgresContainer, error) {
		panic("rootless Docker not found")
	}

	db, err := NewDB(context.Background(), testutil.NewLogger(), nil)
	require.Error(t, err)
	require.Nil(t, db)
	require.Contains(t, err.Error(), "rootless Docker not found")
}
