// Package asynqx pushes claimed-by-id job hints through asynq so a job_run is
// picked up without waiting for the next poll tick. job_run stays the source of
// truth; asynq only carries the id.
package asynqx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
)

const (
	TaskRunJob   = "job_run:execute"
	DefaultQueue = "chat"
)

type taskPayload struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type,omitempty"`
}

type ClientConfig struct {
	RedisURL string
	Queue    string
	MaxRetry int
	// Timeout bounds one handler execution inside asynq.
	Timeout time.Duration
}

type Client struct {
	client *asynq.Client
	cfg    ClientConfig
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, errors.New("asynq: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{client: asynq.NewClient(opt), cfg: cfg}, nil
}

// Dispatch enqueues a hint for job. Call only after the job_run row is committed.
func (c *Client) Dispatch(ctx context.Context, job *types.JobRun) error {
	if c == nil || c.client == nil {
		return errors.New("asynq: client not configured")
	}
	if job == nil || job.ID == uuid.Nil {
		return errors.New("asynq: job id is required")
	}
	payload, err := json.Marshal(taskPayload{JobID: job.ID.String(), JobType: job.JobType})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskRunJob, payload)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.cfg.Queue),
		asynq.MaxRetry(c.cfg.MaxRetry),
		asynq.Timeout(c.cfg.Timeout),
		asynq.TaskID(job.ID.String()),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ParseQueueWeights parses "chat=6,default=1" into a queue weight map.
func ParseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}

func decodePayload(b []byte) (uuid.UUID, error) {
	var p taskPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return uuid.Nil, fmt.Errorf("decode payload: %w", err)
	}
	id, err := uuid.Parse(strings.TrimSpace(p.JobID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job_id: %w", err)
	}
	return id, nil
}
