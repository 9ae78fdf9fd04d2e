package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertState is what Redis remembers about an active alert.
type AlertState struct {
	Status         string    `json:"status"`
	Severity       string    `json:"severity"`
	RaisedAt       time.Time `json:"raised_at"`
	Value          float64   `json:"value"`
	NotificationID string    `json:"notification_id,omitempty"`
}

const (
	StatusClear  = "CLEAR"
	StatusActive = "ALERTING"
)

// StateManager keeps per-host alert states in Redis. A state lives for one
// cooldown, so an alert that stays active is re-announced once per cooldown.
type StateManager struct {
	redis redis.Cmdable
	host  string
}

// NewStateManager creates a new state manager
func NewStateManager(client redis.Cmdable, host string) *StateManager {
	return &StateManager{redis: client, host: host}
}

func (sm *StateManager) key(code string) string {
	return fmt.Sprintf("alert_state:%s:%s", sm.host, code)
}

// GetState retrieves the state for code. A missing key is CLEAR.
func (sm *StateManager) GetState(ctx context.Context, code string) (*AlertState, error) {
	data, err := sm.redis.Get(ctx, sm.key(code)).Result()
	if err == redis.Nil {
		return &AlertState{Status: StatusClear}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state AlertState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Claim stores state for code unless one is already present. It reports
// whether this call created it, so only one caller per cooldown announces.
func (sm *StateManager) Claim(ctx context.Context, code string, state *AlertState, cooldown time.Duration) (bool, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("failed to marshal state: %w", err)
	}

	ok, err := sm.redis.SetNX(ctx, sm.key(code), data, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set state in Redis: %w", err)
	}
	return ok, nil
}

// Release removes the state for code and reports whether one existed.
func (sm *StateManager) Release(ctx context.Context, code string) (bool, error) {
	n, err := sm.redis.Del(ctx, sm.key(code)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete state in Redis: %w", err)
	}
	return n > 0, nil
}

// Active returns the codes that currently hold a state for this host.
func (sm *StateManager) Active(ctx context.Context) ([]string, error) {
	prefix := sm.key("")

	var codes []string
	iter := sm.redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		codes = append(codes, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan alert states: %w", err)
	}
	return codes, nil
}
