// Package trigger starts collection runs from Pub/Sub and Kafka messages.
package trigger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
)

// Envelope errors map to 400 responses on the push endpoint.
var (
	ErrEmptyEnvelope   = errors.New("pubsub envelope has no message")
	ErrInvalidEnvelope = errors.New("invalid pubsub envelope")
)

// Runner performs one full collection run.
type Runner interface {
	RunOnce(ctx context.Context) (collector.RunResult, error)
}

// PubSubMessage is the message part of a push or CloudEvent payload.
type PubSubMessage struct {
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MessageID   string            `json:"messageId,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
}

// PubSubEnvelope is the body Pub/Sub sends to push endpoints. The same shape
// is the data of a google.cloud.pubsub.topic.v1.messagePublished CloudEvent.
type PubSubEnvelope struct {
	Message      *PubSubMessage `json:"message"`
	Subscription string         `json:"subscription,omitempty"`
}

// DecodePubSub parses an envelope. encoding/json decodes the base64 data field.
func DecodePubSub(body []byte) (PubSubEnvelope, error) {
	var env PubSubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Message == nil {
		return env, ErrEmptyEnvelope
	}
	return env, nil
}

// EncodePubSub builds an envelope carrying data. Used by tests and local tooling.
func EncodePubSub(data []byte) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"message": map[string]string{"data": base64.StdEncoding.EncodeToString(data)},
	})
	return b
}

// HandlePubSub logs the message payload and runs a collection.
func HandlePubSub(ctx context.Context, runner Runner, body []byte) (collector.RunResult, error) {
	env, err := DecodePubSub(body)
	if err != nil {
		return collector.RunResult{}, err
	}
	logger.Infof("trigger: pubsub message %s received: %s", env.Message.MessageID, string(env.Message.Data))
	return runner.RunOnce(ctx)
}
