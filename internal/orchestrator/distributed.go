package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/eternisai/saimilar/internal/logger"
)

const (
	teardownSubject = "saimilar.session.teardown"
	teardownTimeout = 5 * time.Second
)

type TeardownRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

type TeardownResponse struct {
	Found      bool   `json:"found"`
	Forbidden  bool   `json:"forbidden,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

// DistributedTeardown closes sessions held by other instances.
//
// Sessions live in memory on the instance that created them. A DELETE that
// lands elsewhere is sent as a NATS request; only the owning instance replies,
// the others stay silent so the request times out when no one owns it.
type DistributedTeardown struct {
	nc           *nats.Conn
	logger       *logger.Logger
	instanceID   string
	subscription *nats.Subscription
}

// NewDistributedTeardown returns nil when nc is nil.
func NewDistributedTeardown(nc *nats.Conn, log *logger.Logger, instanceID string) *DistributedTeardown {
	if nc == nil {
		return nil
	}
	return &DistributedTeardown{
		nc:         nc,
		logger:     log.WithComponent("distributed_teardown"),
		instanceID: instanceID,
	}
}

// Start subscribes; closeOwned reports whether this instance held the session
// and returns ErrSessionNotOwned when the requester may not close it.
func (d *DistributedTeardown) Start(closeOwned func(id, userID string) (bool, error)) error {
	sub, err := d.nc.Subscribe(teardownSubject, func(msg *nats.Msg) {
		var req TeardownRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			d.logger.Warn("received invalid teardown request", slog.String("error", err.Error()))
			return
		}
		found, err := closeOwned(req.SessionID, req.UserID)
		if !found {
			return
		}

		data, err := json.Marshal(TeardownResponse{
			Found:      true,
			Forbidden:  errors.Is(err, ErrSessionNotOwned),
			InstanceID: d.instanceID,
		})
		if err != nil {
			return
		}
		if err := msg.Respond(data); err != nil {
			d.logger.Warn("failed to reply to teardown request", slog.String("error", err.Error()))
		}
		d.logger.Info("processed distributed teardown", slog.String("session_id", req.SessionID))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", teardownSubject, err)
	}

	d.subscription = sub
	d.logger.Info("distributed teardown started",
		slog.String("subject", teardownSubject),
		slog.String("instance_id", d.instanceID))
	return nil
}

func (d *DistributedTeardown) Stop() error {
	if d.subscription != nil {
		if err := d.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	return nil
}

// RequestTeardown asks the owning instance to close the session. No reply
// within the timeout means no instance holds it.
func (d *DistributedTeardown) RequestTeardown(ctx context.Context, sessionID, userID string) (*TeardownResponse, error) {
	data, err := json.Marshal(TeardownRequest{SessionID: sessionID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, teardownTimeout)
	defer cancel()

	msg, err := d.nc.RequestWithContext(reqCtx, teardownSubject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return &TeardownResponse{Found: false}, nil
		}
		return nil, fmt.Errorf("teardown request failed: %w", err)
	}

	var resp TeardownResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}
