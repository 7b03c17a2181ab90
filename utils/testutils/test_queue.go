package testutils

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// CreateTestQueue creates a queue and returns its url. FIFO queues get the .fifo suffix
// and content based deduplication.
func CreateTestQueue(ctx context.Context, name string, isFifo bool, q *sqs.Client) (string, error) {
	queueName := name
	var attrs map[string]string
	if isFifo {
		queueName = fmt.Sprintf("%s.fifo", name)
		attrs = map[string]string{
			"FifoQueue":                 "true",
			"ContentBasedDeduplication": "true",
		}
	}

	qq, err := q.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(queueName),
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("could not create queue %s: %w", queueName, err)
	}
	return *qq.QueueUrl, nil
}

// DestroyQueue deletes the queue at url
func DestroyQueue(ctx context.Context, q *sqs.Client, url string) error {
	_, err := q.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(url)})
	if err != nil {
		return fmt.Errorf("failed to delete test queue %s: %w", url, err)
	}
	return nil
}
