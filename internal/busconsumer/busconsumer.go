// Package busconsumer implements the optional message-bus ingest path:
// a Kafka-compatible consumer that feeds records into the same staging
// append logic the HTTP ingest handler uses, for streams configured to
// accept bus input instead of (or alongside) direct HTTP posts.
package busconsumer

import (
	"context"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/ingestpath"
	"github.com/stratumlake/stratum/internal/schema"
	"github.com/stratumlake/stratum/internal/staging"
)

// TopicBinding maps one Kafka topic to the stream its messages should be
// appended to.
type TopicBinding struct {
	Topic  string
	Stream string
	// CustomPartition, if set, is applied to every message consumed from
	// this topic. Per-message partitioning by message key is not supported.
	CustomPartition string
}

// Config configures the bus consumer.
type Config struct {
	Brokers  []string
	GroupID  string
	Bindings []TopicBinding
}

// Consumer reads records from one or more Kafka topics and appends them
// to the staging engine via the shared ingest path.
type Consumer struct {
	catalog  *catalog.Catalog
	registry *schema.Registry
	staging  *staging.Engine

	readers  []*kafka.Reader
	bindings []TopicBinding
}

// New creates a Consumer with one kafka.Reader per configured topic
// binding, sharing a single consumer group.
func New(cfg Config, cat *catalog.Catalog, reg *schema.Registry, stagingEngine *staging.Engine) *Consumer {
	c := &Consumer{
		catalog:  cat,
		registry: reg,
		staging:  stagingEngine,
		bindings: cfg.Bindings,
	}
	for _, b := range cfg.Bindings {
		c.readers = append(c.readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    b.Topic,
			MinBytes: 1,
			MaxBytes: ingestpath.MaxBatchBytes,
		}))
	}
	return c
}

// Run starts one goroutine per topic binding and blocks until ctx is
// cancelled or every reader's fetch loop exits.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.readers) == 0 {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, len(c.readers))
	for i, reader := range c.readers {
		go c.consumeLoop(ctx, reader, c.bindings[i], errCh)
	}

	select {
	case <-ctx.Done():
		return c.Close()
	case err := <-errCh:
		c.Close()
		return err
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, reader *kafka.Reader, binding TopicBinding, errCh chan<- error) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCh <- fmt.Errorf("busconsumer: topic %s: %w", binding.Topic, err)
			return
		}

		rows, err := ingestpath.DecodeRows(msg.Value)
		if err != nil {
			log.Printf("busconsumer: topic %s: skipping malformed message: %v", binding.Topic, err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		if _, err := ingestpath.Append(ctx, c.catalog, c.registry, c.staging, binding.Stream, binding.CustomPartition, rows); err != nil {
			log.Printf("busconsumer: topic %s: append failed: %v", binding.Topic, err)
		}
	}
}

// Close closes every underlying kafka.Reader.
func (c *Consumer) Close() error {
	var firstErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
