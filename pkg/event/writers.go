package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

const snsPublishTimeout = 10 * time.Second

// LogWriter writes each event as a log line.
type LogWriter struct {
	Logger log.Logger
}

func (w LogWriter) LogEvent(e Event) error {
	return w.Logger.Log("event", e.Type, "id", e.ID, "level", e.LogLevel, "msg", e.String())
}

// SNSWriter publishes events, as JSON, to an SNS topic.
type SNSWriter struct {
	Client   snsiface.SNSAPI
	TopicARN string
}

func (w SNSWriter) LogEvent(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	subject := e.String()
	// SNS subjects are limited to 100 characters
	if len(subject) > 100 {
		subject = subject[:97] + "..."
	}

	ctx, cancel := context.WithTimeout(context.Background(), snsPublishTimeout)
	defer cancel()
	_, err = w.Client.PublishWithContext(ctx, &sns.PublishInput{
		TopicArn: aws.String(w.TopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]*sns.MessageAttributeValue{
			"type":     {DataType: aws.String("String"), StringValue: aws.String(e.Type)},
			"logLevel": {DataType: aws.String("String"), StringValue: aws.String(e.LogLevel)},
		},
	})
	return errors.Wrapf(err, "publishing event to %s", w.TopicARN)
}

// Multi writes to every writer, returning the first error after
// trying them all.
type Multi []EventWriter

func (m Multi) LogEvent(e Event) error {
	var first error
	for _, w := range m {
		if err := w.LogEvent(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
