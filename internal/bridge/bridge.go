// Package bridge carries asynchronous messages between the page side and the
// worker side of the agent. The two sides are independent event loops that
// never share memory; everything goes through these channels. Delivery is
// in-order per direction but not guaranteed: a message sent while the
// receiver is saturated or not yet running is dropped, and the sender is
// expected to re-send on its next readiness signal rather than rely on
// retries here.
package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNotDelivered indicates the receiving side was not draining its channel
// and the message was dropped.
var ErrNotDelivered = errors.New("bridge: message dropped, receiver not ready")

const channelDepth = 16

// Bridge is one page/worker channel pair.
type Bridge struct {
	toWorker chan Message
	toPage   chan Message
	logger   *zap.Logger
}

// New creates a bridge with bounded buffers in both directions.
func New(logger *zap.Logger) *Bridge {
	return &Bridge{
		toWorker: make(chan Message, channelDepth),
		toPage:   make(chan Message, channelDepth),
		logger:   logger,
	}
}

// SendToWorker posts a page-originated message. Returns false if dropped.
func (b *Bridge) SendToWorker(msg Message) bool {
	select {
	case b.toWorker <- msg:
		return true
	default:
		b.logger.Warn("message to worker dropped",
			zap.String("type", msg.messageType()),
		)
		return false
	}
}

// SendToPage posts a worker-originated message. Returns false if dropped.
func (b *Bridge) SendToPage(msg Message) bool {
	select {
	case b.toPage <- msg:
		return true
	default:
		b.logger.Warn("message to page dropped",
			zap.String("type", msg.messageType()),
		)
		return false
	}
}

// Worker is the worker side's receive channel.
func (b *Bridge) Worker() <-chan Message {
	return b.toWorker
}

// Page is the page side's receive channel.
func (b *Bridge) Page() <-chan Message {
	return b.toPage
}

// Authenticate sends UserAuthenticated and waits for the worker's ACK.
func (b *Bridge) Authenticate(ctx context.Context, token, userID, apiURL string) (Ack, error) {
	reply := make(chan Ack, 1)

	if !b.SendToWorker(UserAuthenticated{
		Token:  token,
		UserID: userID,
		APIURL: apiURL,
		Reply:  reply,
	}) {
		return Ack{}, ErrNotDelivered
	}

	select {
	case ack := <-reply:
		return ack, nil
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// RequestToken asks the page for its credential fallback (worker side).
func (b *Bridge) RequestToken(ctx context.Context) (string, error) {
	reply := make(chan TokenResponse, 1)

	if !b.SendToPage(GetToken{Reply: reply}) {
		return "", ErrNotDelivered
	}

	select {
	case resp := <-reply:
		return resp.Token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RequestSeenIDs asks the page for its persisted seen-id set (worker side).
func (b *Bridge) RequestSeenIDs(ctx context.Context) ([]string, error) {
	reply := make(chan SeenIDsResponse, 1)

	if !b.SendToPage(GetSeenIDs{Reply: reply}) {
		return nil, ErrNotDelivered
	}

	select {
	case resp := <-reply:
		return resp.IDs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PageResponder answers the worker's requests on behalf of the page.
type PageResponder interface {
	Token(ctx context.Context) (string, error)
	SeenIDs(ctx context.Context) ([]string, error)
}

// ServePage runs the page side's event loop until the context is cancelled.
func (b *Bridge) ServePage(ctx context.Context, responder PageResponder) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.toPage:
			b.handlePageMessage(ctx, responder, msg)
		}
	}
}

func (b *Bridge) handlePageMessage(ctx context.Context, responder PageResponder, msg Message) {
	switch m := msg.(type) {
	case GetToken:
		token, err := responder.Token(ctx)
		if err != nil {
			b.logger.Warn("token lookup failed", zap.Error(err))
		}
		select {
		case m.Reply <- TokenResponse{Token: token}:
		default:
		}

	case GetSeenIDs:
		ids, err := responder.SeenIDs(ctx)
		if err != nil {
			b.logger.Warn("seen-id lookup failed", zap.Error(err))
		}
		select {
		case m.Reply <- SeenIDsResponse{IDs: ids}:
		default:
		}

	default:
		b.logger.Warn("unhandled message on page side",
			zap.String("type", msg.messageType()),
		)
	}
}
