// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kafka publishes finished pipeline runs to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/pipeline"
)

// DefaultTopic is where runs are published when no topic is configured.
const DefaultTopic = "contentpulse.runs"

// stageMessage is the wire form of a core.StageReport.
type stageMessage struct {
	Stage          string    `json:"stage"`
	Outcome        string    `json:"outcome"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsFailed    int       `json:"items_failed"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// runMessage is the wire form of a core.PipelineRun.
type runMessage struct {
	ID         string         `json:"id"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Aborted    bool           `json:"aborted"`
	Stages     []stageMessage `json:"stages"`
}

func newRunMessage(run *core.PipelineRun) runMessage {
	msg := runMessage{
		ID:         run.ID,
		Trigger:    string(run.Trigger),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Aborted:    run.Aborted,
		Stages:     make([]stageMessage, len(run.Stages)),
	}
	for i, s := range run.Stages {
		msg.Stages[i] = stageMessage{
			Stage:          string(s.Stage),
			Outcome:        string(s.Outcome),
			ItemsProcessed: s.ItemsProcessed,
			ItemsFailed:    s.ItemsFailed,
			Attempts:       s.Attempts,
			Error:          s.Error,
			StartedAt:      s.StartedAt,
			FinishedAt:     s.FinishedAt,
		}
	}
	return msg
}

// Reporter sends every recorded run as one JSON message keyed by run id.
type Reporter struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

var _ pipeline.RunRecorder = (*Reporter)(nil)

// NewReporter creates a reporter publishing through producer.
func NewReporter(producer sarama.SyncProducer, topic string, logger *slog.Logger) (*Reporter, error) {
	if producer == nil {
		return nil, errors.New("kafka producer required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka-reporter", "topic", topic),
	}, nil
}

// Dial creates a reporter with a synchronous producer connected to brokers.
func Dial(brokers []string, topic string, logger *slog.Logger) (*Reporter, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V3_6_0_0
	config.ClientID = "contentpulse"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to kafka: %w", err)
	}
	return NewReporter(producer, topic, logger)
}

// RecordRun publishes run. The producer does not observe ctx; a cancelled
// context only prevents the send from starting.
func (r *Reporter) RecordRun(ctx context.Context, run *core.PipelineRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(newRunMessage(run))
	if err != nil {
		return err
	}

	partition, offset, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.StringEncoder(run.ID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publishing run %s: %w", run.ID, err)
	}
	r.logger.Debug("run published", "run", run.ID, "partition", partition, "offset", offset)
	return nil
}

// Close closes the producer.
func (r *Reporter) Close() error {
	return r.producer.Close()
}
