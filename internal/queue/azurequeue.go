package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
)

// AzureBroker implements Broker atop Azure Storage Queues, one
// azqueue.QueueClient per wire queue name, created lazily. The dequeue loop
// uses DequeueCount for poison-message handling, UpdateMessage for lease
// extension, and DeleteMessage to ack, generalized to per-job attempt
// counters and an explicit DLQ queue per named queue instead of a hard
// poison-message cutoff.
type AzureBroker struct {
	cred     azcore.TokenCredential
	queueURL string // base URL, e.g. https://acct.queue.core.windows.net
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*azqueue.QueueClient
}

// NewAzureBroker constructs a broker against queueURL using cred.
func NewAzureBroker(queueURL string, cred azcore.TokenCredential, logger *slog.Logger) *AzureBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AzureBroker{cred: cred, queueURL: queueURL, logger: logger, clients: map[string]*azqueue.QueueClient{}}
}

func (b *AzureBroker) client(ctx context.Context, queueName string) (*azqueue.QueueClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[queueName]; ok {
		return c, nil
	}
	c, err := azqueue.NewQueueClient(b.queueURL+"/"+queueName, b.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: new client for %q: %w", queueName, err)
	}
	if _, err := c.Create(ctx, nil); err != nil {
		// Create on an existing queue is not an error per the Azure SDK contract.
		b.logger.DebugContext(ctx, "queue create (may already exist)", slog.String("queue", queueName), slog.Any("err", err))
	}
	b.clients[queueName] = c
	return c, nil
}

func (b *AzureBroker) dlqName(queueName string) string { return queueName + "-dlq" }

type wireMessage struct {
	Job Job `json:"job"`
}

func ptr32(i int) *int32 { v := int32(i); return &v }

func (b *AzureBroker) Enqueue(ctx context.Context, queueName string, job Job, opts EnqueueOptions) (string, error) {
	c, err := b.client(ctx, queueName)
	if err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Attempt = 1
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	} else if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	job.Backoff = opts.Backoff

	body, err := json.Marshal(wireMessage{Job: job})
	if err != nil {
		return "", fmt.Errorf("queue: marshal job: %w", err)
	}
	visibility := opts.DelayMs / 1000
	_, err = c.EnqueueMessage(ctx, string(body), &azqueue.EnqueueMessageOptions{VisibilityTimeout: ptr32(visibility)})
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return job.ID, nil
}

func (b *AzureBroker) Reserve(ctx context.Context, queueName string, max int, visibility time.Duration) ([]Job, error) {
	c, err := b.client(ctx, queueName)
	if err != nil {
		return nil, err
	}
	resp, err := c.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  ptr32(max),
		VisibilityTimeout: ptr32(int(visibility.Seconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	jobs := make([]Job, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		var wm wireMessage
		if err := json.Unmarshal([]byte(*m.MessageText), &wm); err != nil {
			b.logger.ErrorContext(ctx, "queue: malformed message, dropping", slog.Any("err", err))
			_, _ = c.DeleteMessage(ctx, *m.MessageID, *m.PopReceipt, nil)
			continue
		}
		job := wm.Job
		job.Attempt = int(*m.DequeueCount)
		job.popReceipt = encodeReceipt(*m.MessageID, *m.PopReceipt)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (b *AzureBroker) Renew(ctx context.Context, queueName string, job Job, visibility time.Duration) (Job, error) {
	c, err := b.client(ctx, queueName)
	if err != nil {
		return job, err
	}
	messageID, popReceipt := decodeReceipt(job.popReceipt)
	resp, err := c.UpdateMessage(ctx, messageID, popReceipt, "", &azqueue.UpdateMessageOptions{VisibilityTimeout: ptr32(int(visibility.Seconds()))})
	if err != nil {
		return job, fmt.Errorf("queue: renew lease: %w", err)
	}
	job.popReceipt = encodeReceipt(messageID, *resp.PopReceipt)
	return job, nil
}

func (b *AzureBroker) Ack(ctx context.Context, queueName string, job Job) error {
	c, err := b.client(ctx, queueName)
	if err != nil {
		return err
	}
	messageID, popReceipt := decodeReceipt(job.popReceipt)
	_, err = c.DeleteMessage(ctx, messageID, popReceipt, nil)
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

func (b *AzureBroker) Nack(ctx context.Context, queueName string, job Job, cause error) error {
	if job.Attempt >= job.MaxAttempts {
		if err := b.deadLetter(ctx, queueName, job, cause); err != nil {
			return err
		}
		return b.Ack(ctx, queueName, job)
	}

	// Re-enqueue with backoff, then delete the original message; Azure
	// Storage Queues have no native "nack with delay", so retry is modeled
	// as enqueue-then-delete, posting a fresh message rather than updating
	// the existing one in place.
	delay := job.Backoff.Delay(job.Attempt)
	if _, err := b.Enqueue(ctx, queueName, job, EnqueueOptions{DelayMs: int(delay.Milliseconds()), MaxAttempts: job.MaxAttempts, Backoff: job.Backoff}); err != nil {
		return err
	}
	return b.Ack(ctx, queueName, job)
}

func (b *AzureBroker) deadLetter(ctx context.Context, queueName string, job Job, cause error) error {
	c, err := b.client(ctx, b.dlqName(queueName))
	if err != nil {
		return err
	}
	dl := DeadLetter{Job: job, LastError: errString(cause), QueuedAt: time.Now().UTC()}
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("queue: marshal dead letter: %w", err)
	}
	if _, err := c.EnqueueMessage(ctx, string(body), nil); err != nil {
		return fmt.Errorf("queue: enqueue dead letter: %w", err)
	}
	return nil
}

func (b *AzureBroker) ListDeadLetters(ctx context.Context, queueName string) ([]DeadLetter, error) {
	c, err := b.client(ctx, b.dlqName(queueName))
	if err != nil {
		return nil, err
	}
	resp, err := c.PeekMessages(ctx, &azqueue.PeekMessagesOptions{NumberOfMessages: ptr32(32)})
	if err != nil {
		return nil, fmt.Errorf("queue: peek dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(*m.MessageText), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func encodeReceipt(messageID, popReceipt string) string { return messageID + "\x00" + popReceipt }

func decodeReceipt(receipt string) (messageID, popReceipt string) {
	for i := range receipt {
		if receipt[i] == 0 {
			return receipt[:i], receipt[i+1:]
		}
	}
	return receipt, ""
}
