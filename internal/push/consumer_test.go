package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// fakeSQS serves queued messages then empty receives.
type fakeSQS struct {
	mu       sync.Mutex
	messages []types.Message
	receives int
	deleted  []string
	err      error
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.receives++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.messages) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}

	msg := f.messages[0]
	f.messages = f.messages[1:]
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{msg}}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, *params.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

type recordingHandler struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recordingHandler) HandlePush(ctx context.Context, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, string(payload))
}

func (r *recordingHandler) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.payloads))
	copy(out, r.payloads)
	return out
}

func newTestConsumer(client sqsAPI, handler Handler) *Consumer {
	return &Consumer{
		client:          client,
		queueURL:        "https://sqs.us-east-1.amazonaws.com/123456789/push",
		handler:         handler,
		logger:          zap.NewNop(),
		receiveErrDelay: time.Millisecond,
	}
}

func TestPoll_DeliversAndDeletes(t *testing.T) {
	client := &fakeSQS{messages: []types.Message{
		{
			Body:          aws.String(`{"title":"X","body":"Y"}`),
			ReceiptHandle: aws.String("rh-1"),
		},
	}}
	handler := &recordingHandler{}
	c := newTestConsumer(client, handler)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	got := handler.received()
	if len(got) != 1 || got[0] != `{"title":"X","body":"Y"}` {
		t.Errorf("unexpected payloads: %v", got)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "rh-1" {
		t.Errorf("expected receipt rh-1 deleted, got %v", client.deleted)
	}
}

func TestPoll_EmptyReceiveIsNoop(t *testing.T) {
	client := &fakeSQS{}
	handler := &recordingHandler{}
	c := newTestConsumer(client, handler)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(handler.received()) != 0 {
		t.Error("expected no payloads from an empty receive")
	}
}

func TestRun_RetriesAfterReceiveError(t *testing.T) {
	client := &fakeSQS{err: errors.New("queue unavailable")}
	c := newTestConsumer(client, &recordingHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		client.mu.Lock()
		n := client.receives
		client.mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected repeated receive attempts after errors")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}
