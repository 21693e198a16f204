package eventbus

import (
	"context"

	"go.uber.org/zap"

	"trade-metrics-lab/internal/collector"
)

// WSSource adapts a bus subscription to collector.Source.
type WSSource struct {
	Endpoint string
	Topic    string
	Config   *Config
	Logger   *zap.Logger
}

// Deliveries dials the bus and streams deliveries until ctx is cancelled.
func (s *WSSource) Deliveries(ctx context.Context) (<-chan collector.Delivery, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := Dial(ctx, s.Endpoint, s.Topic, s.Config, logger)
	if err != nil {
		return nil, err
	}

	out := make(chan collector.Delivery)
	go func() {
		defer close(out)
		go func() {
			<-ctx.Done()
			client.Close()
		}()

		for msg := range client.Messages() {
			id := msg.ID
			d := collector.Delivery{
				ID:   id,
				Body: msg.Payload,
				Ack: func(cause error) {
					if err := client.Ack(id, cause); err != nil {
						logger.Warn("ack not delivered", zap.String("delivery_id", id), zap.Error(err))
					}
				},
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
