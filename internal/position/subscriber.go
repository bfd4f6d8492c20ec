// internal/position/subscriber.go
package position

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"
)

// accountStream is the live subscription handle. Recv blocks until the next
// notification; Unsubscribe errors the stream, which unblocks Recv.
type accountStream interface {
	Recv() (*ws.AccountResult, error)
	Unsubscribe()
}

// WSSubscriber adapts the websocket client to the tracker's channel-based
// subscription contract.
type WSSubscriber struct {
	client     *ws.Client
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

func NewWSSubscriber(client *ws.Client, commitment rpc.CommitmentType, logger *zap.Logger) *WSSubscriber {
	return &WSSubscriber{
		client:     client,
		commitment: commitment,
		logger:     logger.Named("ws"),
	}
}

// Subscribe opens an account subscription and pumps change notifications
// into the returned channel. The channel closes when the subscription drops;
// the cancel func releases it.
func (s *WSSubscriber) Subscribe(ctx context.Context, account solana.PublicKey) (<-chan struct{}, func(), error) {
	sub, err := s.client.AccountSubscribe(account, s.commitment)
	if err != nil {
		return nil, nil, err
	}
	events, release := s.pump(ctx, account, sub)
	return events, release, nil
}

func (s *WSSubscriber) pump(ctx context.Context, account solana.PublicKey, sub accountStream) (<-chan struct{}, func()) {
	subCtx, cancel := context.WithCancel(ctx)
	events := make(chan struct{}, 1)

	var unsubOnce sync.Once
	stop := func() {
		unsubOnce.Do(sub.Unsubscribe)
	}
	go func() {
		<-subCtx.Done()
		stop()
	}()

	go func() {
		defer close(events)
		for {
			if _, err := sub.Recv(); err != nil {
				if subCtx.Err() == nil {
					s.logger.Debug("Account subscription receive error",
						zap.String("account", account.String()), zap.Error(err))
				}
				return
			}
			// Coalesce: a pending signal already covers this change.
			select {
			case events <- struct{}{}:
			default:
			}
		}
	}()

	release := func() {
		cancel()
		stop()
	}
	return events, release
}

var _ AccountSubscriber = (*WSSubscriber)(nil)
var _ accountStream = (*ws.AccountSubscription)(nil)
