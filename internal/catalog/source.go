package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nebulastream/nebulastream-sub040/internal/errs"
	"github.com/nebulastream/nebulastream-sub040/internal/layout"
)

// encodeSchema marshals a schema to the JSON representation stored in the
// logical_streams table's jsonb column.
func encodeSchema(schema layout.Schema) ([]byte, error) {
	return json.Marshal(schema)
}

// SourceCatalog persists logical stream schemas and the physical sources
// registered under each one in Postgres, and keeps an in-memory index of
// logical -> physical names so PhysicalSourcesFor can satisfy
// internal/optimizer.PhysicalSourceLookup without a DB round trip on
// every topology-aware rewrite.
type SourceCatalog struct {
	db *PostgresClient

	mu       sync.RWMutex
	physical map[string][]string // logical name -> physical names
	nodeOf   map[string]uint32   // physical name -> node id
}

func NewSourceCatalog(db *PostgresClient) *SourceCatalog {
	return &SourceCatalog{db: db, physical: make(map[string][]string), nodeOf: make(map[string]uint32)}
}

// NodeForPhysicalSource returns the node a physical source was registered
// on, so placement can pin a source operator to the node producing it.
func (c *SourceCatalog) NodeForPhysicalSource(physicalName string) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.nodeOf[physicalName]
	return id, ok
}

// RegisterLogicalStream inserts a logical stream's schema.
func (c *SourceCatalog) RegisterLogicalStream(ctx context.Context, logicalName string, schema layout.Schema) error {
	encoded, err := encodeSchema(schema)
	if err != nil {
		return fmt.Errorf("catalog: encoding schema for %s: %w", logicalName, err)
	}
	if _, err := c.db.Pool().Exec(ctx, `
		INSERT INTO logical_streams (name, schema) VALUES ($1, $2)`, logicalName, encoded); err != nil {
		return fmt.Errorf("catalog: registering logical stream %s: %w", logicalName, err)
	}
	return nil
}

func (c *SourceCatalog) UnregisterLogicalStream(ctx context.Context, logicalName string) error {
	tag, err := c.db.Pool().Exec(ctx, `DELETE FROM logical_streams WHERE name = $1`, logicalName)
	if err != nil {
		return fmt.Errorf("catalog: unregistering logical stream %s: %w", logicalName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: unregistering logical stream %s: %w", logicalName, errs.ErrUnknownLogicalSource)
	}
	c.mu.Lock()
	delete(c.physical, logicalName)
	c.mu.Unlock()
	return nil
}

// RegisterPhysicalStream binds a physical source name (on nodeID) to a
// logical stream, persisting it and updating the in-memory index used by
// PhysicalSourcesFor.
func (c *SourceCatalog) RegisterPhysicalStream(ctx context.Context, logicalName, physicalName string, nodeID uint32) error {
	if _, err := c.db.Pool().Exec(ctx, `
		INSERT INTO physical_streams (logical_name, physical_name, node_id) VALUES ($1, $2, $3)`,
		logicalName, physicalName, nodeID); err != nil {
		return fmt.Errorf("catalog: registering physical stream %s for %s: %w", physicalName, logicalName, err)
	}

	c.mu.Lock()
	c.physical[logicalName] = append(c.physical[logicalName], physicalName)
	c.nodeOf[physicalName] = nodeID
	c.mu.Unlock()
	return nil
}

func (c *SourceCatalog) UnregisterPhysicalStream(ctx context.Context, logicalName, physicalName string) error {
	tag, err := c.db.Pool().Exec(ctx, `
		DELETE FROM physical_streams WHERE logical_name = $1 AND physical_name = $2`, logicalName, physicalName)
	if err != nil {
		return fmt.Errorf("catalog: unregistering physical stream %s: %w", physicalName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: unregistering physical stream %s: %w", physicalName, errs.ErrSourceNotFound)
	}

	c.mu.Lock()
	names := c.physical[logicalName]
	for i, n := range names {
		if n == physicalName {
			c.physical[logicalName] = append(names[:i], names[i+1:]...)
			break
		}
	}
	delete(c.nodeOf, physicalName)
	c.mu.Unlock()
	return nil
}

// PhysicalSourcesFor satisfies internal/optimizer.PhysicalSourceLookup.
func (c *SourceCatalog) PhysicalSourcesFor(logicalName string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := c.physical[logicalName]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Refresh reloads the logical -> physical index from Postgres, used once
// at coordinator startup to recover state written by a previous process.
func (c *SourceCatalog) Refresh(ctx context.Context) error {
	rows, err := c.db.Pool().Query(ctx, `SELECT logical_name, physical_name, node_id FROM physical_streams`)
	if err != nil {
		return fmt.Errorf("catalog: refreshing physical stream index: %w", err)
	}
	defer rows.Close()

	index := make(map[string][]string)
	nodeOf := make(map[string]uint32)
	for rows.Next() {
		var logicalName, physicalName string
		var nodeID uint32
		if err := rows.Scan(&logicalName, &physicalName, &nodeID); err != nil {
			return fmt.Errorf("catalog: scanning physical stream row: %w", err)
		}
		index[logicalName] = append(index[logicalName], physicalName)
		nodeOf[physicalName] = nodeID
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: refreshing physical stream index: %w", err)
	}

	c.mu.Lock()
	c.physical = index
	c.nodeOf = nodeOf
	c.mu.Unlock()
	return nil
}
