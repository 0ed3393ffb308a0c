package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// ID is a time-ordered 63-bit identifier. IDs from one node are strictly increasing.
type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Time returns the millisecond the ID was generated in.
func (id ID) Time() time.Time {
	return time.UnixMilli((int64(id) >> timeShift) + epoch).UTC()
}

// Node returns the generator node number embedded in the ID.
func (id ID) Node() int64 {
	return (int64(id) >> nodeShift) & nodeMax
}

// ParseID parses the decimal form produced by ID.String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snowflake: parse %q: %w", s, err)
	}
	return ID(v), nil
}

type Node struct {
	mu    sync.Mutex
	time  int64
	node  int64
	step  int64
	epoch int64
	now   func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("snowflake: node number must be between 0 and %d, got %d", nodeMax, node)
	}
	return &Node{
		node:  node,
		epoch: epoch,
		now:   func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (n *Node) Generate() ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()

	if now < n.time {
		// Clock moved backwards; keep issuing from the last observed millisecond.
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = n.now()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ID(((now - n.epoch) << timeShift) | (n.node << nodeShift) | n.step)
}

// Next returns a fresh ID in its string form, the form stored on every entity.
func (n *Node) Next() string {
	return n.Generate().String()
}
