package datachannel

import (
	"fmt"
	"sync"
)

// PortRange hands out passive ports round-robin from [Start, End]. It is
// shared by all sessions of a server.
type PortRange struct {
	start, end int

	mu   sync.Mutex
	next int
}

// NewPortRange validates and creates a port range.
func NewPortRange(start, end int) (*PortRange, error) {
	if start < 1024 || end > 65535 || start > end {
		return nil, fmt.Errorf("invalid data port range %d-%d", start, end)
	}
	return &PortRange{start: start, end: end, next: start}, nil
}

// Next returns the next port to try.
func (p *PortRange) Next() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	port := p.next
	p.next++
	if p.next > p.end {
		p.next = p.start
	}
	return port
}

// Size returns the number of ports in the range.
func (p *PortRange) Size() int {
	return p.end - p.start + 1
}

func (p *PortRange) String() string {
	return fmt.Sprintf("%d-%d", p.start, p.end)
}
