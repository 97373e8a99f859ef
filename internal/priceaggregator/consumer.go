package priceaggregator

import (
	"context"

	"github.com/IBM/sarama"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// TickListener is notified after every tick that is successfully ingested
// into the aggregator, so the LTV Evaluator can debounce its
// re-evaluation pass per venue.
type TickListener interface {
	OnTick(ctx context.Context, venue domain.Venue)
}

// Consumer reads one venue's price topic from the bus and feeds parsed
// ticks into the Aggregator, grounded on the consumer service's
// partition-consumer pattern.
type Consumer struct {
	venue    domain.Venue
	topic    string
	brokers  []string
	parse    func(clk clock.Clock, raw []byte) (domain.PriceTick, bool, error)
	clk      clock.Clock
	agg      *Aggregator
	listener TickListener
	log      *logger.Logger
}

// NewMosEspaConsumer builds a consumer for the MOS_ESPA price topic.
func NewMosEspaConsumer(brokers []string, topic string, clk clock.Clock, agg *Aggregator, listener TickListener, log *logger.Logger) *Consumer {
	return &Consumer{
		venue:   domain.VenueMosEspa,
		topic:   topic,
		brokers: brokers,
		parse: func(clk clock.Clock, raw []byte) (domain.PriceTick, bool, error) {
			tick, err := ParseVenueA(clk, raw)
			return tick, true, err
		},
		clk:      clk,
		agg:      agg,
		listener: listener,
		log:      log.Named("price-consumer-mos-espa"),
	}
}

// NewBlackSpireConsumer builds a consumer for the BLACK_SPIRE price topic.
func NewBlackSpireConsumer(brokers []string, topic string, clk clock.Clock, agg *Aggregator, listener TickListener, log *logger.Logger) *Consumer {
	return &Consumer{
		venue:    domain.VenueBlackSpire,
		topic:    topic,
		brokers:  brokers,
		parse:    ParseVenueB,
		clk:      clk,
		agg:      agg,
		listener: listener,
		log:      log.Named("price-consumer-black-spire"),
	}
}

// Run consumes from every partition of the topic from the newest offset,
// blocking until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(c.brokers, cfg)
	if err != nil {
		return err
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(c.topic)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(c.topic, partition, sarama.OffsetNewest)
		if err != nil {
			c.log.WithError(err).WithField("partition", partition).Error("failed to start partition consumer")
			continue
		}
		go c.consumePartition(ctx, pc, done)
	}

	<-ctx.Done()
	return nil
}

func (c *Consumer) consumePartition(ctx context.Context, pc sarama.PartitionConsumer, done chan struct{}) {
	defer pc.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			c.handleMessage(ctx, msg.Value)
		case err, ok := <-pc.Errors():
			if !ok {
				return
			}
			c.log.WithError(err).Warn("partition consumer error")
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, raw []byte) {
	tick, keep, err := c.parse(c.clk, raw)
	if err != nil {
		metrics.PriceTicksDroppedTotal.WithLabelValues(string(c.venue), "parse_error").Inc()
		c.log.WithError(err).Warn("dropping malformed price tick")
		return
	}
	if !keep {
		return // e.g. a non-BSK item on the BLACK_SPIRE feed; not an error
	}

	c.agg.Ingest(tick)
	if c.listener != nil {
		c.listener.OnTick(ctx, c.venue)
	}
}
