//go:build integration

package dgraph

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alpenclub/tripscope/pkg/store"
	"github.com/alpenclub/tripscope/pkg/store/storetest"
)

// startDgraph launches a standalone Dgraph container and waits for the alpha
// HTTP endpoint to come up.
func startDgraph(ctx context.Context, t *testing.T) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "dgraph/standalone:v23.1.0",
		ExposedPorts: []string{"8080/tcp"},
		WaitingFor: wait.ForHTTP("/health").
			WithPort("8080/tcp").
			WithStatusCodeMatcher(func(status int) bool { return status >= 200 && status < 500 }),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "8080/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, mappedPort.Port())
}

// dropData wipes all triples but keeps the schema, so every subtest starts
// from an empty graph.
func dropData(t *testing.T, endpoint string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, endpoint+"/alter", strings.NewReader(`{"drop_op": "DATA"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300)
}

func TestConformance(t *testing.T) {
	ctx := context.Background()
	endpoint := startDgraph(ctx, t)

	db := New(endpoint, 30*time.Second)
	require.Eventually(t, func() bool {
		return db.EnsureSchema(ctx) == nil
	}, 2*time.Minute, 2*time.Second, "schema never applied")

	storetest.Run(t, func(t *testing.T) store.Store {
		dropData(t, endpoint)
		return New(endpoint, 30*time.Second)
	})
}
