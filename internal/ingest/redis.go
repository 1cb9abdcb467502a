package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

// Submission is one message on the intake list. Either DocumentID names an
// existing document to (re)process, or FilePath names a new file to register.
type Submission struct {
	DocumentID int64  `json:"document_id,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Tier       int    `json:"tier,omitempty"`
}

// Reprocessor re-runs an existing document, optionally at a forced tier.
type Reprocessor interface {
	Reprocess(ctx context.Context, documentID int64, tier int) error
}

// RedisIntake consumes Submissions from a Redis list with BRPOP.
type RedisIntake struct {
	rdb    *redis.Client
	list   string
	block  time.Duration
	reg    *Registrar
	reproc Reprocessor
	logger *slog.Logger
}

func NewRedisIntake(rdb *redis.Client, list string, reg *Registrar, reproc Reprocessor, logger *slog.Logger) *RedisIntake {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisIntake{rdb: rdb, list: list, block: 5 * time.Second, reg: reg, reproc: reproc, logger: logger}
}

// Run pops submissions until ctx is done. Connection errors back off and
// retry; a bad message is logged and dropped.
func (r *RedisIntake) Run(ctx context.Context) error {
	r.logger.Info("ingest.redis.start", "list", r.list)
	backoff := time.Second
	for {
		res, err := r.rdb.BRPop(ctx, r.block, r.list).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			r.logger.Warn("ingest.redis.pop_failed", "error", err, "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		if len(res) != 2 {
			continue
		}
		if err := r.handle(ctx, res[1]); err != nil {
			r.logger.Error("ingest.redis.submission_failed", "message", res[1], "error", err)
		}
	}
}

func (r *RedisIntake) handle(ctx context.Context, raw string) error {
	var s Submission
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("decode submission: %w", err)
	}
	switch {
	case s.DocumentID > 0:
		return r.reproc.Reprocess(ctx, s.DocumentID, s.Tier)
	case s.FilePath != "":
		_, err := r.reg.Register(ctx, s.FilePath)
		return err
	default:
		return errors.New("submission has neither document_id nor file_path")
	}
}

// Submit pushes s onto the intake list. Used by the CLI so a running daemon
// picks the work up.
func Submit(ctx context.Context, rdb *redis.Client, list string, s Submission) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return rdb.LPush(ctx, list, b).Err()
}

// Compile-time check that the queue satisfies both intake dependencies.
var (
	_ Enqueuer    = (*pipeline.Queue)(nil)
	_ Reprocessor = (*pipeline.Queue)(nil)
)
