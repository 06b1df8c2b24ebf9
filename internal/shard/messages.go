package shard

import (
	"context"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/query"
	"github.com/sneldb/sneldb/internal/schema"
)

// msg is one entry on the shard's single ordered mailbox (spec.md §4.1:
// "Message kinds received on an ordered channel"). Each concrete type
// carries its own reply channel, so the actor loop never has to guess a
// caller's response shape.
type msg interface {
	apply(s *Shard) (stop bool)
}

type storeMsg struct {
	ev    event.Event
	reg   *schema.Registry
	reply chan<- storeReply
}

type storeReply struct {
	eventID uint64
	err     error
}

func (m *storeMsg) apply(s *Shard) bool {
	id, err := s.handleStore(m.ev, m.reg)
	m.reply <- storeReply{eventID: id, err: err}
	return false
}

type queryMsg struct {
	ctx   context.Context
	cmd   query.Command
	reg   *schema.Registry
	reply chan<- queryReply
}

type queryReply struct {
	events <-chan event.Event
	errs   <-chan error
	err    error
}

func (m *queryMsg) apply(s *Shard) bool {
	events, errc, err := s.handleQuery(m.ctx, m.cmd, m.reg)
	m.reply <- queryReply{events: events, errs: errc, err: err}
	return false
}

type flushMsg struct {
	reg   *schema.Registry
	reply chan<- error
}

func (m *flushMsg) apply(s *Shard) bool {
	m.reply <- s.handleFlush(m.reg)
	return false
}

type shutdownMsg struct {
	reply chan<- error
}

func (m *shutdownMsg) apply(s *Shard) bool {
	m.reply <- s.handleShutdown()
	return true
}

type compactMsg struct {
	ctx   context.Context
	reg   *schema.Registry
	reply chan<- compactReply
}

type compactReply struct {
	ran bool
	err error
}

func (m *compactMsg) apply(s *Shard) bool {
	ran, err := s.handleCompaction(m.ctx, m.reg)
	m.reply <- compactReply{ran: ran, err: err}
	return false
}
