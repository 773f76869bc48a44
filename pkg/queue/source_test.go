//go:build integration

package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cleanup := func() {
		_ = container.Terminate(ctx)
	}

	return host + ":" + port.Port(), cleanup
}

func TestSource_ConsumesInOrder(t *testing.T) {
	addr, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	// Producers LPUSH; the source must deliver oldest first.
	for _, pipelineID := range []string{"first", "second", "third"} {
		payload, err := json.Marshal(dispatchRequest{PipelineID: pipelineID})
		require.NoError(t, err)
		require.NoError(t, client.LPush(ctx, defaultQueue, payload).Err())
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	source, err := NewSource(map[string]any{
		"connection": map[string]any{"addr": addr},
	}, logger)
	require.NoError(t, err)

	received := make(chan models.Event, 3)

	err = source.Start(ctx, func(_ context.Context, event models.Event) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	defer func() {
		require.NoError(t, source.Stop(ctx))
	}()

	var order []string

	for range 3 {
		select {
		case event := <-received:
			assert.Equal(t, models.EventDispatch, event.Type)
			order = append(order, event.Payload["pipeline_id"].(string))
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for dispatch events")
		}
	}

	assert.Equal(t, []string{"first", "second", "third"}, order)
}
