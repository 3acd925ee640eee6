// Package cluster keeps this node's liveness record current and reclaims the
// triggers and locks of nodes that stopped checking in.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/RezaEskandarii/gofire-cluster/internal/metrics"
	"github.com/RezaEskandarii/gofire-cluster/internal/retry"
	"github.com/RezaEskandarii/gofire-cluster/internal/state"
	"github.com/RezaEskandarii/gofire-cluster/internal/store"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"go.uber.org/zap"
)

type Heartbeat struct {
	store      store.NodeStore
	nodeID     string
	interval   time.Duration
	multiplier int
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	now        func() time.Time
	retryOpts  []retry.Option

	mu        sync.Mutex
	state     state.NodeState
	startedAt time.Time
}

type Option func(*Heartbeat)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(h *Heartbeat) {
		h.logger = logger.Component(l, "heartbeat")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Heartbeat) {
		h.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Heartbeat) {
		h.now = now
	}
}

func WithRetryOptions(opts ...retry.Option) Option {
	return func(h *Heartbeat) {
		h.retryOpts = opts
	}
}

// NewHeartbeat returns a heartbeat for nodeID. A node is considered dead by
// its peers after interval*multiplier without a check-in.
func NewHeartbeat(st store.NodeStore, nodeID string, interval time.Duration, multiplier int, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		store:      st,
		nodeID:     nodeID,
		interval:   interval,
		multiplier: multiplier,
		logger:     logger.Nop(),
		metrics:    metrics.New(),
		now:        time.Now,
		state:      state.NodeStarting,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(logger.FieldNode, nodeID)
	return h
}

func (h *Heartbeat) NodeID() string {
	return h.nodeID
}

func (h *Heartbeat) State() state.NodeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Heartbeat) setState(to state.NodeState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !state.IsValidNodeTransition(h.state, to) {
		return fmt.Errorf("node %s cannot move from %s to %s", h.nodeID, h.state, to)
	}
	h.state = to
	return nil
}

// Register joins the cluster. Work still held by an earlier process with the
// same node id is released first, then the first check-in is written. The
// node is ACTIVE when Register returns nil.
func (h *Heartbeat) Register(ctx context.Context) error {
	leftover, err := h.store.RemoveNode(ctx, h.nodeID)
	if err != nil {
		return fmt.Errorf("recover previous incarnation of %s: %w", h.nodeID, err)
	}
	if len(leftover.Resources) > 0 || leftover.ReleasedTriggers > 0 {
		h.logger.Infow("recovered work of a previous incarnation",
			logger.FieldResources, leftover.Resources, logger.FieldCount, leftover.ReleasedTriggers)
	}

	h.mu.Lock()
	h.startedAt = h.now()
	h.mu.Unlock()

	err = retry.Do(ctx, func(ctx context.Context) error {
		return h.checkIn(ctx, h.now())
	}, func(err error, wait time.Duration) {
		h.metrics.ObserveTransient("heartbeat")
		h.logger.Warnw("first check-in failed, retrying", logger.FieldError, err, "wait", wait)
	}, h.retryOpts...)
	if err != nil {
		return fmt.Errorf("register node %s: %w", h.nodeID, err)
	}
	if err := h.setState(state.NodeActive); err != nil {
		return err
	}
	h.logger.Infow("node joined cluster", "checkin_interval", h.interval, "dead_node_multiplier", h.multiplier)
	return nil
}

// Run checks in and reaps dead nodes every interval until ctx ends. Store
// failures are logged and retried on the next beat.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if _, err := h.Beat(ctx, h.now()); err != nil && ctx.Err() == nil {
			if custom_errors.IsTransient(err) {
				h.metrics.ObserveTransient("heartbeat")
				h.logger.Warnw("heartbeat failed", logger.FieldError, err)
			} else {
				h.logger.Errorw("heartbeat failed", logger.FieldError, err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Beat writes one check-in and reclaims the work of every node dead as of now.
func (h *Heartbeat) Beat(ctx context.Context, now time.Time) ([]types.ReapedNode, error) {
	if err := h.checkIn(ctx, now); err != nil {
		return nil, err
	}
	return h.Reap(ctx, now)
}

// Reap reclaims the work of every node dead as of now without checking in.
// The scheduler calls it before each poll so failover does not wait for the
// next check-in.
func (h *Heartbeat) Reap(ctx context.Context, now time.Time) ([]types.ReapedNode, error) {
	reaped, err := h.store.ReapLocksForDeadNodes(ctx, now, h.multiplier, h.nodeID)
	if err != nil {
		return nil, err
	}
	for _, r := range reaped {
		if r.NodeID == "" {
			h.logger.Infow("recovery event: reclaimed orphaned work",
				logger.FieldResources, r.Resources, logger.FieldCount, r.ReleasedTriggers)
			continue
		}
		h.logger.Infow("recovery event: reclaimed work of dead node",
			"dead_node", r.NodeID, "last_checkin", r.LastCheckin,
			logger.FieldResources, r.Resources, logger.FieldCount, r.ReleasedTriggers)
	}
	h.metrics.ObserveReaped(reaped)
	return reaped, nil
}

func (h *Heartbeat) checkIn(ctx context.Context, now time.Time) error {
	h.mu.Lock()
	node := types.Node{
		ID:              h.nodeID,
		State:           h.state,
		LastCheckin:     now,
		CheckinInterval: h.interval,
		StartedAt:       h.startedAt,
	}
	h.mu.Unlock()
	return h.store.CheckIn(ctx, node)
}

// Stop leaves the cluster: every lock and trigger this node holds is released
// and its node record is deleted. Stopping a stopped node is a no-op.
func (h *Heartbeat) Stop(ctx context.Context) error {
	if err := h.setState(state.NodeStopping); err != nil {
		return nil
	}

	var released types.ReapedNode
	err := retry.Do(ctx, func(ctx context.Context) error {
		r, err := h.store.RemoveNode(ctx, h.nodeID)
		released = r
		return err
	}, nil, h.retryOpts...)
	if err != nil {
		return fmt.Errorf("remove node %s: %w", h.nodeID, err)
	}

	if err := h.setState(state.NodeRemoved); err != nil {
		return err
	}
	h.logger.Infow("node left cluster", logger.FieldResources, released.Resources,
		logger.FieldCount, released.ReleasedTriggers)
	return nil
}
