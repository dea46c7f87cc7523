package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nebulastream/nebulastream-sub040/internal/errs"
	"github.com/nebulastream/nebulastream-sub040/internal/plan"
)

// QueryCatalog persists a shared plan's lifecycle state and last error in
// Postgres, satisfying internal/deployment.CatalogWriter so a coordinator
// restart can recover what it last told workers to do. Mirrors
// QueryDeploymentPhase's practice of writing the catalog entry before the
// corresponding RPC is sent.
type QueryCatalog struct {
	db *PostgresClient
}

func NewQueryCatalog(db *PostgresClient) *QueryCatalog {
	return &QueryCatalog{db: db}
}

// Register inserts a new row for a freshly-created shared plan, starting
// it in plan.Created.
func (c *QueryCatalog) Register(ctx context.Context, sharedPlanID, sql, placementStrategy string) error {
	_, err := c.db.Pool().Exec(ctx, `
		INSERT INTO queries (id, sql_text, placement_strategy, state, last_error, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5)`,
		sharedPlanID, sql, placementStrategy, string(plan.Created), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: registering query %s: %w", sharedPlanID, err)
	}
	return nil
}

func (c *QueryCatalog) MarkDeployed(ctx context.Context, sharedPlanID string) error {
	return c.setState(ctx, sharedPlanID, plan.Deployed, nil)
}

func (c *QueryCatalog) MarkRunning(ctx context.Context, sharedPlanID string) error {
	return c.setState(ctx, sharedPlanID, plan.Running, nil)
}

func (c *QueryCatalog) MarkStopped(ctx context.Context, sharedPlanID string) error {
	return c.setState(ctx, sharedPlanID, plan.Stopped, nil)
}

func (c *QueryCatalog) MarkFailed(ctx context.Context, sharedPlanID string, cause error) error {
	return c.setState(ctx, sharedPlanID, plan.Failed, cause)
}

func (c *QueryCatalog) setState(ctx context.Context, sharedPlanID string, state plan.LifecycleState, cause error) error {
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}
	tag, err := c.db.Pool().Exec(ctx, `
		UPDATE queries SET state = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		string(state), lastError, time.Now().UTC(), sharedPlanID)
	if err != nil {
		return fmt.Errorf("catalog: updating query %s to %s: %w", sharedPlanID, state, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: updating query %s to %s: %w", sharedPlanID, state, errs.ErrQueryNotFound)
	}
	return nil
}

// QueryStatus is the row shape returned by Status: lifecycle state plus
// the most recent failure, if the query has one.
type QueryStatus struct {
	State     plan.LifecycleState
	LastError string
}

// Status returns the persisted lifecycle state for sharedPlanID, used to
// answer probeStat-style status RPCs and to recover in-flight queries
// after a coordinator restart.
func (c *QueryCatalog) Status(ctx context.Context, sharedPlanID string) (QueryStatus, error) {
	var state string
	var lastError *string
	err := c.db.Pool().QueryRow(ctx, `SELECT state, last_error FROM queries WHERE id = $1`, sharedPlanID).
		Scan(&state, &lastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return QueryStatus{}, fmt.Errorf("catalog: query %s: %w", sharedPlanID, errs.ErrQueryNotFound)
	}
	if err != nil {
		return QueryStatus{}, fmt.Errorf("catalog: reading query %s status: %w", sharedPlanID, err)
	}
	status := QueryStatus{State: plan.LifecycleState(state)}
	if lastError != nil {
		status.LastError = *lastError
	}
	return status, nil
}
