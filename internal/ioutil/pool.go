package ioutil

import (
	ants "github.com/panjf2000/ants/v2"

	"github.com/sneldb/sneldb/internal/errs"
)

// Pool is a shared, bounded goroutine pool that each shard's rotate
// submits its background memtable flushes to (spec.md §5's "shared
// blocking-task pool"). One Pool is created at shard-group startup and
// shared across every shard.
type Pool struct {
	p *ants.Pool
}

// NewPool creates a pool bounded at size concurrent tasks.
func NewPool(size int) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, errs.Wrap(err, "ioutil: create pool")
	}
	return &Pool{p: p}, nil
}

// Submit queues fn to run on a pool worker, blocking the caller until one
// is free to accept it (the pool is bounded and non-blocking-mode is
// off, so Submit itself never drops work).
func (p *Pool) Submit(fn func()) error {
	return errs.Wrap(p.p.Submit(fn), "ioutil: submit to pool")
}

// Running reports how many tasks are currently executing.
func (p *Pool) Running() int {
	return p.p.Running()
}

// Release closes the pool; it does not wait for tasks already running.
func (p *Pool) Release() {
	p.p.Release()
}
