// Package queue provides the Redis-backed dispatch source: external systems
// push dispatch requests onto a Redis list, and the consumer turns each one
// into a manual-dispatch event.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/protocol"
)

const defaultQueue = "gridci.dispatch"

// dispatchRequest is the wire form a producer pushes onto the list.
type dispatchRequest struct {
	PipelineID string            `json:"pipeline_id"`
	Inputs     map[string]string `json:"inputs,omitempty"`
}

// Source consumes dispatch requests from a Redis list.
type Source struct {
	Connection map[string]string
	Queue      string

	client   redis.UniversalClient
	callback protocol.EventCallback
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSource creates a Redis dispatch source from its configuration map.
func NewSource(config map[string]any, logger *slog.Logger) (*Source, error) {
	queue, _ := config["queue"].(string)
	if queue == "" {
		queue = defaultQueue
	}

	connection := make(map[string]string)

	if connectionConfig, ok := config["connection"].(map[string]any); ok {
		for key, value := range connectionConfig {
			if str, ok := value.(string); ok {
				connection[key] = str
			}
		}
	}

	source := &Source{
		Connection: connection,
		Queue:      queue,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "dispatch_queue",
			"queue", queue,
		),
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	return source, nil
}

// Validate checks the source configuration.
func (s *Source) Validate() error {
	if s.Queue == "" {
		return errors.New("dispatch queue name is required")
	}

	return nil
}

// Start connects to Redis and begins consuming dispatch requests.
func (s *Source) Start(ctx context.Context, callback protocol.EventCallback) error {
	s.logger.InfoContext(ctx, "Starting dispatch queue consumer")
	s.callback = callback

	if err := s.initializeClient(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	s.wg.Add(1)

	go s.consume(ctx)

	return nil
}

// Stop halts the consumer and closes the Redis connection.
func (s *Source) Stop(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "Dispatch queue consumer stopped")

	return nil
}

func (s *Source) initializeClient(ctx context.Context) error {
	addr := s.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0

	if dbStr := s.Connection["db"]; dbStr != "" {
		if _, err := fmt.Sscanf(dbStr, "%d", &db); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: s.Connection["password"],
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return nil
}

func (s *Source) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			if err := s.processMessage(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Error processing dispatch request", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (s *Source) processMessage(ctx context.Context) error {
	// Producers LPUSH, so popping from the right keeps dispatch order FIFO.
	result, err := s.client.BRPop(ctx, time.Second, s.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop from queue: %w", err)
	}

	// BRPop returns [queue, payload].
	if len(result) < 2 {
		return nil
	}

	var request dispatchRequest
	if err := json.Unmarshal([]byte(result[1]), &request); err != nil {
		return fmt.Errorf("failed to decode dispatch request: %w", err)
	}

	if request.PipelineID == "" {
		return errors.New("dispatch request missing pipeline_id")
	}

	event := models.Event{
		ID:         uuid.New().String(),
		Type:       models.EventDispatch,
		Inputs:     request.Inputs,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]any{
			"pipeline_id": request.PipelineID,
			"source":      "queue",
		},
	}

	return s.callback(ctx, event)
}
