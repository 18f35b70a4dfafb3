package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/harborfin/ledger/pkg/application"
	"github.com/harborfin/ledger/pkg/domain"
)

// IteratorPolicy selects where a shard worker starts reading when it opens
// a shard.
type IteratorPolicy string

const (
	// IteratorLatest starts at the next record after subscription. Used on
	// cold starts when projections are known fresh.
	IteratorLatest IteratorPolicy = "latest"

	// IteratorTrimHorizon starts at the oldest retained record. Used to
	// rebuild projections without a checkpoint.
	IteratorTrimHorizon IteratorPolicy = "trim_horizon"

	// IteratorAfterCheckpoint resumes after the persisted per-shard
	// sequence number, falling back to TRIM_HORIZON when none exists.
	// Preferred in production.
	IteratorAfterCheckpoint IteratorPolicy = "after_checkpoint"
)

// ParseIteratorPolicy converts a config string into an IteratorPolicy.
func ParseIteratorPolicy(s string) (IteratorPolicy, error) {
	switch IteratorPolicy(s) {
	case IteratorLatest, IteratorTrimHorizon, IteratorAfterCheckpoint:
		return IteratorPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown iterator policy %q", s)
	}
}

// RecordHandler receives decoded events from the stream, one at a time and
// in shard order. application.Projector satisfies it.
type RecordHandler interface {
	HandleEvent(ctx context.Context, event domain.Event) error
}

// StreamConsumerConfig tunes the change-stream consumer.
type StreamConsumerConfig struct {
	StreamARN          string
	Policy             IteratorPolicy
	BatchLimit         int32
	PollInterval       time.Duration
	RedescribeInterval time.Duration
}

// StreamConsumer tails the event log's change stream. It discovers shards,
// runs one worker goroutine per shard, delivers each committed event to the
// handler in shard order, and checkpoints after every processed batch.
// Delivery is at-least-once: on restart, records since the last checkpoint
// are re-delivered, and projection handlers absorb the duplicates.
//
// The consumer never propagates errors upward. Transport failures back off
// and retry; undecodable records are logged and skipped; projection
// failures are logged and resolved by re-delivery. The per-shard iterator
// is each worker's private state.
type StreamConsumer struct {
	streams     StreamsAPI
	checkpoints CheckpointStore
	handler     RecordHandler
	cfg         StreamConsumerConfig
	logger      domain.Logger
	metrics     application.MetricsCollector
}

// NewStreamConsumer creates a consumer for the configured stream.
func NewStreamConsumer(streams StreamsAPI, checkpoints CheckpointStore, handler RecordHandler,
	cfg StreamConsumerConfig, logger domain.Logger, metrics application.MetricsCollector) *StreamConsumer {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RedescribeInterval <= 0 {
		cfg.RedescribeInterval = 30 * time.Second
	}
	if cfg.Policy == "" {
		cfg.Policy = IteratorAfterCheckpoint
	}
	if metrics == nil {
		metrics = application.NopMetrics{}
	}
	return &StreamConsumer{
		streams:     streams,
		checkpoints: checkpoints,
		handler:     handler,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run tails the stream until ctx is cancelled. It re-describes the stream on
// an interval so shard splits and merges pick up new workers; a shard whose
// iterator chain ends is closed and its worker exits normally. Run returns
// once every worker has drained its in-flight batch.
func (c *StreamConsumer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	active := make(map[string]bool)

	group.Go(func() error {
		for {
			shards, err := c.describeShards(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Warn("stream description failed, will retry", "error", err)
			}

			mu.Lock()
			for _, shardID := range shards {
				if active[shardID] {
					continue
				}
				active[shardID] = true
				id := shardID
				group.Go(func() error {
					c.runShard(ctx, id)
					return nil
				})
			}
			mu.Unlock()

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.RedescribeInterval):
			}
		}
	})

	return group.Wait()
}

// describeShards pages through the stream description and returns every
// shard ID currently part of the stream.
func (c *StreamConsumer) describeShards(ctx context.Context) ([]string, error) {
	var shardIDs []string
	var startShardID *string

	for {
		out, err := c.streams.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(c.cfg.StreamARN),
			ExclusiveStartShardId: startShardID,
		})
		if err != nil {
			return nil, domain.NewTransportError("describe stream", err)
		}
		if out.StreamDescription == nil {
			return shardIDs, nil
		}

		for _, shard := range out.StreamDescription.Shards {
			if shard.ShardId != nil {
				shardIDs = append(shardIDs, *shard.ShardId)
			}
		}

		if out.StreamDescription.LastEvaluatedShardId == nil {
			return shardIDs, nil
		}
		startShardID = out.StreamDescription.LastEvaluatedShardId
	}
}

// runShard is the per-shard state machine: acquire an iterator, poll,
// dispatch, checkpoint, and recover with backoff on fetch errors. It exits
// when the shard closes or ctx is cancelled; the in-flight batch always
// finishes first.
func (c *StreamConsumer) runShard(ctx context.Context, shardID string) {
	c.logger.Info("shard worker starting", "shard_id", shardID, "policy", string(c.cfg.Policy))

	iterator, err := c.acquireIterator(ctx, shardID)
	if err != nil {
		// Only context cancellation gets here; transport errors retry inside.
		return
	}

	fetchBackoff := backoff.NewExponentialBackOff()
	fetchBackoff.MaxElapsedTime = 0 // retry until cancelled

	for {
		out, err := c.streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: aws.String(iterator),
			Limit:         aws.Int32(c.cfg.BatchLimit),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("record fetch failed, recovering", "shard_id", shardID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchBackoff.NextBackOff()):
			}
			iterator, err = c.acquireIterator(ctx, shardID)
			if err != nil {
				return
			}
			continue
		}
		fetchBackoff.Reset()

		lastSequence := ""
		for _, record := range out.Records {
			c.processRecord(ctx, shardID, record)
			if record.Dynamodb != nil && record.Dynamodb.SequenceNumber != nil {
				lastSequence = *record.Dynamodb.SequenceNumber
			}
		}

		// Checkpoint after the batch regardless of per-record projection
		// outcomes; handlers are idempotent and re-delivery covers gaps.
		if lastSequence != "" {
			if err := c.checkpoints.Save(ctx, shardID, lastSequence); err != nil {
				c.logger.Error("checkpoint save failed", "shard_id", shardID, "error", err)
			}
		}

		if out.NextShardIterator == nil {
			c.logger.Info("shard closed, worker exiting", "shard_id", shardID)
			return
		}
		iterator = *out.NextShardIterator

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// acquireIterator obtains a shard iterator per the configured policy,
// retrying with exponential backoff for as long as the context lives.
func (c *StreamConsumer) acquireIterator(ctx context.Context, shardID string) (string, error) {
	var iterator string

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until cancelled

	operation := func() error {
		it, err := c.shardIterator(ctx, shardID)
		if err != nil {
			c.logger.Warn("iterator acquisition failed, backing off", "shard_id", shardID, "error", err)
			return err
		}
		iterator = it
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return iterator, nil
}

func (c *StreamConsumer) shardIterator(ctx context.Context, shardID string) (string, error) {
	input := &dynamodbstreams.GetShardIteratorInput{
		StreamArn: aws.String(c.cfg.StreamARN),
		ShardId:   aws.String(shardID),
	}

	switch c.cfg.Policy {
	case IteratorLatest:
		input.ShardIteratorType = streamtypes.ShardIteratorTypeLatest
	case IteratorTrimHorizon:
		input.ShardIteratorType = streamtypes.ShardIteratorTypeTrimHorizon
	case IteratorAfterCheckpoint:
		sequence, err := c.checkpoints.Load(ctx, shardID)
		if err != nil {
			return "", err
		}
		if sequence == "" {
			input.ShardIteratorType = streamtypes.ShardIteratorTypeTrimHorizon
		} else {
			input.ShardIteratorType = streamtypes.ShardIteratorTypeAfterSequenceNumber
			input.SequenceNumber = aws.String(sequence)
		}
	default:
		return "", fmt.Errorf("unknown iterator policy %q", c.cfg.Policy)
	}

	out, err := c.streams.GetShardIterator(ctx, input)
	if err != nil {
		return "", domain.NewTransportError("get shard iterator", err)
	}
	if out.ShardIterator == nil {
		return "", fmt.Errorf("stream returned no iterator for shard %s", shardID)
	}
	return *out.ShardIterator, nil
}

// processRecord decodes one stream record and hands it to the projector.
// Non-INSERT records are ignored (the log is append-only; anything else is
// configuration drift). Undecodable records are skipped as poison: replaying
// them would fail identically. Projection failures are logged and left to
// re-delivery.
func (c *StreamConsumer) processRecord(ctx context.Context, shardID string, record streamtypes.Record) {
	if record.EventName != streamtypes.OperationTypeInsert {
		c.logger.Debug("ignoring non-insert stream record",
			"shard_id", shardID, "operation", string(record.EventName))
		c.metrics.IncrementRecordsSkipped(shardID)
		return
	}
	if record.Dynamodb == nil || record.Dynamodb.NewImage == nil {
		c.logger.Error("stream record has no new image, skipping", "shard_id", shardID)
		c.metrics.IncrementRecordsSkipped(shardID)
		return
	}

	attr, ok := record.Dynamodb.NewImage["event_data"].(*streamtypes.AttributeValueMemberS)
	if !ok {
		c.logger.Error("stream record missing event_data, skipping", "shard_id", shardID)
		c.metrics.IncrementRecordsSkipped(shardID)
		return
	}

	event, err := domain.DecodeEvent([]byte(attr.Value))
	if err != nil {
		c.logger.Error("undecodable stream record skipped",
			"shard_id", shardID, "error", err)
		c.metrics.IncrementRecordsSkipped(shardID)
		return
	}

	if err := c.handler.HandleEvent(ctx, event); err != nil {
		c.logger.Error("projection incomplete for event, relying on re-delivery",
			"shard_id", shardID, "event_id", event.EventID(), "error", err)
	}
	c.metrics.IncrementRecordsProcessed(shardID)
}
