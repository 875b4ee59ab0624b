package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/lobby-presence/internal/config"
	"github.com/lobby-presence/internal/directory"
	"github.com/lobby-presence/internal/domain"
)

// Feed event types as carried in the envelope.
const (
	TypePlayerInfo  = "player_info"
	TypeFriendList  = "friend_list"
	TypeFoeList     = "foe_list"
	TypeGameAdded   = "game_added"
	TypeGameRemoved = "game_removed"
	TypeGameUpdated = "game_updated"
)

// Envelope is the wire format of the lobby feed.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ListPayload carries a full friend or foe list snapshot.
type ListPayload struct {
	Usernames []string `json:"usernames"`
}

// Consumer ingests the lobby feed from Kafka. Player attribute updates go to
// the directory; game lifecycle deltas are pushed onto the ordered event
// channel consumed by the projector. A single ConsumeClaim loop keeps the
// whole update path serialized per partition.
type Consumer struct {
	config        *config.KafkaConfig
	directory     *directory.Directory
	gameEvents    chan<- domain.GameEvent
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new lobby feed consumer
func NewConsumer(cfg *config.KafkaConfig, dir *directory.Directory, gameEvents chan<- domain.GameEvent, logger *slog.Logger) (*Consumer, error) {
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
		directory:     dir,
		gameEvents:    gameEvents,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming the lobby feed
func (c *Consumer) Start() error {
	c.logger.Info("starting lobby feed consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.FeedTopic,
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

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.FeedTopic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("lobby feed consumer ready")

	// Handle errors in separate goroutine
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
	c.logger.Info("stopping lobby feed consumer")
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

// ConsumeClaim processes feed messages from a topic partition, one at a time
// and in arrival order. A bad event is logged and skipped; it never
// interrupts the update path.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var envelope Envelope
			if err := json.Unmarshal(message.Value, &envelope); err != nil {
				h.consumer.logger.Warn("failed to unmarshal feed message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			h.consumer.dispatch(session.Context(), envelope)
			session.MarkMessage(message, "")
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, envelope Envelope) {
	switch envelope.Type {
	case TypePlayerInfo:
		var info domain.PlayerInfo
		if err := json.Unmarshal(envelope.Payload, &info); err != nil {
			c.logger.Warn("invalid player info payload", "error", err)
			return
		}
		if info.Username == "" {
			c.logger.Warn("player info without username")
			return
		}
		c.directory.UpdateFromRemoteInfo(info)

	case TypeFriendList:
		var list ListPayload
		if err := json.Unmarshal(envelope.Payload, &list); err != nil {
			c.logger.Warn("invalid friend list payload", "error", err)
			return
		}
		c.directory.ApplyFriendList(list.Usernames)

	case TypeFoeList:
		var list ListPayload
		if err := json.Unmarshal(envelope.Payload, &list); err != nil {
			c.logger.Warn("invalid foe list payload", "error", err)
			return
		}
		c.directory.ApplyFoeList(list.Usernames)

	case TypeGameAdded, TypeGameRemoved, TypeGameUpdated:
		var game domain.GameRecord
		if err := json.Unmarshal(envelope.Payload, &game); err != nil {
			c.logger.Warn("invalid game payload", "error", err, "type", envelope.Type)
			return
		}
		event := domain.GameEvent{Game: &game}
		switch envelope.Type {
		case TypeGameAdded:
			event.Kind = domain.GameAdded
		case TypeGameRemoved:
			event.Kind = domain.GameRemoved
		case TypeGameUpdated:
			event.Kind = domain.GameRosterChanged
		}
		select {
		case c.gameEvents <- event:
		case <-ctx.Done():
		}

	default:
		c.logger.Debug("unknown feed event type", "type", envelope.Type)
	}
}
