// Package idgen issues time-ordered identifiers for auto-created products.
package idgen

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// SKUPrefix starts every generated SKU.
const SKUPrefix = "SKU-"

// Generator hands out snowflake ids. It is safe for concurrent use.
type Generator struct {
	node *snowflake.Node
}

// New returns a Generator for nodeID, which must be unique per running process
// sharing a database (0..1023).
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// NewSKU returns a short upper-case SKU such as "SKU-1A2B3C4D5E6F".
func (g *Generator) NewSKU() string {
	return SKUPrefix + strings.ToUpper(g.node.Generate().Base36())
}
