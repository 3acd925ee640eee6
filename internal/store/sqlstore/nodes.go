package sqlstore

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/internal/state"
	"github.com/RezaEskandarii/gofire-cluster/types"
)

// releasedState returns ACQUIRED triggers to WAITING and leaves paused or blocked ones as they are.
var releasedState = sq.Expr("CASE WHEN state = ? THEN ? ELSE state END",
	string(state.StateAcquired), string(state.StateWaiting))

func (s *Store) CheckIn(ctx context.Context, node types.Node) error {
	_, err := s.exec(ctx, s.conn, s.builder.
		Insert(nodesTable).
		Columns("node_id", "state", "last_checkin_time", "checkin_interval", "started_at").
		Values(node.ID, string(node.State), node.LastCheckin.UnixMilli(),
			node.CheckinInterval.Milliseconds(), node.StartedAt.UnixMilli()).
		Suffix(`ON CONFLICT (node_id) DO UPDATE SET
			state = excluded.state,
			last_checkin_time = excluded.last_checkin_time,
			checkin_interval = excluded.checkin_interval`))
	return wrapErr("check in", err)
}

func (s *Store) ReapLocksForDeadNodes(ctx context.Context, now time.Time, multiplier int, self string) ([]types.ReapedNode, error) {
	var reaped []types.ReapedNode

	err := s.inTx(ctx, "reap dead nodes", func(tx *sql.Tx) error {
		dead, err := s.deadNodes(ctx, tx, now, multiplier, self)
		if err != nil {
			return err
		}
		for _, node := range dead {
			r, err := s.removeNode(ctx, tx, node.ID)
			if err != nil {
				return err
			}
			r.LastCheckin = node.LastCheckin
			reaped = append(reaped, r)
		}

		orphans, err := s.reclaimOrphans(ctx, tx, now, multiplier)
		if err != nil {
			return err
		}
		if len(orphans.Resources) > 0 || orphans.ReleasedTriggers > 0 {
			reaped = append(reaped, orphans)
		}
		return s.unblockTriggers(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return reaped, nil
}

func (s *Store) RemoveNode(ctx context.Context, nodeID string) (types.ReapedNode, error) {
	var removed types.ReapedNode
	err := s.inTx(ctx, "remove node", func(tx *sql.Tx) error {
		r, err := s.removeNode(ctx, tx, nodeID)
		if err != nil {
			return err
		}
		removed = r
		return s.unblockTriggers(ctx, tx)
	})
	return removed, err
}

func (s *Store) removeNode(ctx context.Context, q lock.Querier, nodeID string) (types.ReapedNode, error) {
	r := types.ReapedNode{NodeID: nodeID}

	names, err := s.locks.ReleaseAllForNode(ctx, q, nodeID)
	if err != nil {
		return r, err
	}
	r.Resources = names

	n, err := s.exec(ctx, q, s.builder.
		Update(triggersTable).
		Set("state", releasedState).
		Set("owning_node", nil).
		Set("acquired_at", nil).
		Set("fire_instance_id", nil).
		Where(sq.Eq{"owning_node": nodeID}))
	if err != nil {
		return r, err
	}
	r.ReleasedTriggers = int(n)

	_, err = s.exec(ctx, q, s.builder.
		Delete(nodesTable).
		Where(sq.Eq{"node_id": nodeID}))
	return r, err
}

// reclaimOrphans frees locks and triggers whose owner is dead or has no node record.
func (s *Store) reclaimOrphans(ctx context.Context, q lock.Querier, now time.Time, multiplier int) (types.ReapedNode, error) {
	r := types.ReapedNode{}

	names, err := s.locks.ReclaimExpired(ctx, q, now, multiplier)
	if err != nil {
		return r, err
	}
	r.Resources = names

	n, err := s.exec(ctx, q, s.builder.
		Update(triggersTable).
		Set("state", releasedState).
		Set("owning_node", nil).
		Set("acquired_at", nil).
		Set("fire_instance_id", nil).
		Where(sq.NotEq{"owning_node": nil}).
		Where("owning_node NOT IN (SELECT node_id FROM gofire_nodes)"))
	if err != nil {
		return r, err
	}
	r.ReleasedTriggers = int(n)
	return r, nil
}

func (s *Store) deadNodes(ctx context.Context, q lock.Querier, now time.Time, multiplier int, self string) ([]types.Node, error) {
	return s.queryNodes(ctx, q, s.builder.
		Select("node_id", "state", "last_checkin_time", "checkin_interval", "started_at").
		From(nodesTable).
		Where(sq.NotEq{"node_id": self}).
		Where("last_checkin_time + checkin_interval * ? < ?", multiplier, now.UnixMilli()).
		OrderBy("node_id"))
}

func (s *Store) ListNodes(ctx context.Context, now time.Time, multiplier int) ([]types.Node, error) {
	nodes, err := s.queryNodes(ctx, s.conn, s.builder.
		Select("node_id", "state", "last_checkin_time", "checkin_interval", "started_at").
		From(nodesTable).
		OrderBy("node_id"))
	if err != nil {
		return nil, wrapErr("list nodes", err)
	}
	for i := range nodes {
		nodes[i].Alive = !nodes[i].IsDead(now, multiplier)
	}
	return nodes, nil
}

func (s *Store) queryNodes(ctx context.Context, q lock.Querier, b sq.SelectBuilder) ([]types.Node, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []types.Node
	for rows.Next() {
		var (
			n                              types.Node
			st                             string
			lastCheckin, interval, started int64
		)
		if err := rows.Scan(&n.ID, &st, &lastCheckin, &interval, &started); err != nil {
			return nil, err
		}
		n.State = state.NodeState(st)
		n.LastCheckin = time.UnixMilli(lastCheckin)
		n.CheckinInterval = time.Duration(interval) * time.Millisecond
		n.StartedAt = time.UnixMilli(started)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *Store) ListLocks(ctx context.Context) ([]types.LockRecord, error) {
	records, err := s.locks.List(ctx, s.conn)
	return records, wrapErr("list locks", err)
}
