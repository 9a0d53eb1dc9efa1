package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/banana-evolution/tapboard/internal/config"
	"github.com/banana-evolution/tapboard/internal/domain"
	"github.com/banana-evolution/tapboard/internal/identity"
)

// BatchHandler commits tap batches to the stores.
type BatchHandler interface {
	CommitTapBatch(ctx context.Context, user identity.User, tapsDelta, bananasDelta int64) error
}

// Consumer consumes tap-batch messages from Kafka. It exists for edges that
// forward client flushes through a broker instead of hitting the HTTP API
// directly; both paths land in the same handler.
type Consumer struct {
	config        *config.KafkaConfig
	handler       BatchHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler BatchHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Batches from the
// same player are merged in memory before flushing, so one commit carries
// one player's accumulated deltas. Merging is safe because deltas are
// additive.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	pending := make(map[string]*domain.TapBatch, cfg.BatchSize)
	count := 0
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if count == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, batch := range pending {
			user := identity.User{
				ID:            batch.PlayerID,
				Email:         batch.Email,
				EmailVerified: batch.EmailVerified,
			}
			if err := h.consumer.handler.CommitTapBatch(ctx, user, batch.TapsDelta, batch.BananasDelta); err != nil {
				h.consumer.logger.Error("failed to commit tap batch",
					"player_id", batch.PlayerID,
					"taps", batch.TapsDelta,
					"error", err,
				)
			}
		}

		h.consumer.logger.Debug("flushed tap batches", "players", len(pending), "messages", count)
		pending = make(map[string]*domain.TapBatch, cfg.BatchSize)
		count = 0
	}

	for {
		select {
		case <-session.Context().Done():
			// Flush remaining batches before exit
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			var batch domain.TapBatch
			if err := json.Unmarshal(message.Value, &batch); err != nil {
				h.consumer.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if batch.PlayerID == "" {
				h.consumer.logger.Warn("tap batch without player id",
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if existing, ok := pending[batch.PlayerID]; ok {
				existing.TapsDelta += batch.TapsDelta
				existing.BananasDelta += batch.BananasDelta
				existing.Email = batch.Email
				existing.EmailVerified = batch.EmailVerified
			} else {
				copied := batch
				pending[batch.PlayerID] = &copied
			}
			count++
			session.MarkMessage(message, "")

			if count >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
