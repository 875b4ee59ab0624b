package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/lobby-presence/internal/config"
	"github.com/lobby-presence/internal/domain"
)

// JoinRequest is the message issued to the lobby server when the local
// player joins a game.
type JoinRequest struct {
	GameUID  int    `json:"game_uid"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// JoinProducer issues join calls by publishing join requests to the lobby
// server's request topic. The broker ack is the remote acceptance; a produce
// failure surfaces as the join failure cause.
type JoinProducer struct {
	producer sarama.SyncProducer
	topic    string
	username func() string
	logger   *slog.Logger
}

// NewJoinProducer creates a producer for the join request topic
func NewJoinProducer(cfg *config.KafkaConfig, username func() string, logger *slog.Logger) (*JoinProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating join producer: %w", err)
	}

	return &JoinProducer{
		producer: producer,
		topic:    cfg.JoinTopic,
		username: username,
		logger:   logger,
	}, nil
}

// JoinGame publishes the join request for game.
func (p *JoinProducer) JoinGame(ctx context.Context, game *domain.GameRecord, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	request := JoinRequest{
		GameUID:  game.UID,
		Username: p.username(),
		Password: password,
	}
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshaling join request: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.Itoa(game.UID)),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("sending join request: %w", err)
	}

	p.logger.Info("join request sent",
		"game_uid", game.UID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close shuts down the underlying producer
func (p *JoinProducer) Close() error {
	return p.producer.Close()
}
