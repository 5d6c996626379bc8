package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ConnectionError reports a failed interaction with the graph database.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("graph database %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Store adapts the Bolt driver to the handful of operations the build
// pipeline needs. The driver pools connections and is safe to share.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore prepares a driver for bolt://host:port as the neo4j user.
// No connection is made until the store is used; call VerifyConnectivity
// to probe the database.
func NewStore(host, port, password string) (*Store, error) {
	uri := fmt.Sprintf("bolt://%s:%s", host, port)
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth("neo4j", password, ""))
	if err != nil {
		return nil, &ConnectionError{Op: "configure driver", Err: err}
	}
	return &Store{driver: driver, logger: zap.NewNop()}, nil
}

// SetLogger routes store logging to l instead of the default no-op logger.
func (s *Store) SetLogger(l *zap.Logger) {
	s.logger = l
}

// VerifyConnectivity probes the database.
func (s *Store) VerifyConnectivity(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return &ConnectionError{Op: "verify connectivity", Err: err}
	}
	return nil
}

// Close releases the driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Session opens a write session. The caller owns it and must close it.
func (s *Store) Session(ctx context.Context) CypherSession {
	return &session{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// session wraps one driver session; each Run is one managed transaction.
type session struct {
	sess neo4j.SessionWithContext
}

func (s *session) Run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return &ConnectionError{Op: "write transaction", Err: err}
	}
	return nil
}

func (s *session) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

// CustomReadQuery runs a read-only query and returns each record as a map
// keyed by its return aliases. A positive limit is appended to the query.
func (s *Store) CustomReadQuery(ctx context.Context, cypher string, limit int) ([]map[string]any, error) {
	if limit > 0 {
		cypher = fmt.Sprintf("%s limit %d", cypher, limit)
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer sess.Close(ctx)

	rows, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			out = append(out, rec.AsMap())
		}
		return out, nil
	})
	if err != nil {
		return nil, &ConnectionError{Op: "read query", Err: err}
	}
	return rows.([]map[string]any), nil
}

// CustomWriteQuery runs an arbitrary write statement in one transaction.
func (s *Store) CustomWriteQuery(ctx context.Context, cypher string) error {
	sess := s.Session(ctx)
	defer sess.Close(ctx)
	if err := sess.Run(ctx, cypher, nil); err != nil {
		return fmt.Errorf("custom write query: %w", err)
	}
	return nil
}

// DeleteProject removes every edge stamped with the project id. Nodes stay
// in place; they may be shared with other projects.
func (s *Store) DeleteProject(ctx context.Context, projectID int64) error {
	sess := s.Session(ctx)
	defer sess.Close(ctx)
	cypher := "MATCH ()-[r]->() WHERE r.project_id = $project_id DELETE r"
	if err := sess.Run(ctx, cypher, map[string]any{"project_id": projectID}); err != nil {
		return fmt.Errorf("delete project %d edges: %w", projectID, err)
	}
	s.logger.Info("deleted project edges", zap.Int64("project_id", projectID))
	return nil
}
