// Package ids generates the identifiers used across authcore records.
package ids

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

var (
	nodeMu sync.Mutex
	node   *snowflake.Node
)

// SetNode selects the snowflake node used for account ids. Processes sharing
// one database must use distinct nodes.
func SetNode(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	nodeMu.Lock()
	node = n
	nodeMu.Unlock()
	return nil
}

// NewAccountID returns a snowflake id. Without SetNode it uses node 1, and it
// falls back to a KSUID if the node cannot be initialized.
func NewAccountID() string {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if node == nil {
		n, err := snowflake.NewNode(1)
		if err != nil {
			return NewSortable()
		}
		node = n
	}
	return node.Generate().String()
}

// NewSortable returns a KSUID. KSUIDs sort lexically by creation second.
func NewSortable() string {
	return ksuid.New().String()
}

// NewRandom returns a random UUIDv4 string.
func NewRandom() string {
	return uuid.NewString()
}
