package core

import (
	"fmt"

	"github.com/searchktools/tiny-server/core/codec"
	"github.com/searchktools/tiny-server/core/http"
)

// Stats is a snapshot of the acceptor and worker counters.
type Stats struct {
	Workers        int    `json:"workers"`
	Queued         uint64 `json:"queued"`
	Completed      uint64 `json:"completed"`
	Active         int64  `json:"active"`
	Pending        int    `json:"pending"`
	Panics         uint64 `json:"panics"`
	Accepted       uint64 `json:"accepted"`
	AcceptErrors   uint64 `json:"accept_errors"`
	ProtocolErrors uint64 `json:"protocol_errors"`
	WriteErrors    uint64 `json:"write_errors"`
	ShuttingDown   bool   `json:"shutting_down"`
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	ps := s.pool.Stats()
	return Stats{
		Workers:        ps.NumWorkers,
		Queued:         ps.TasksSubmitted,
		Completed:      ps.TasksCompleted,
		Active:         ps.TasksActive,
		Pending:        ps.TasksPending,
		Panics:         ps.Panics,
		Accepted:       s.stats.accepted.Load(),
		AcceptErrors:   s.stats.acceptErrors.Load(),
		ProtocolErrors: s.stats.protocolErrors.Load(),
		WriteErrors:    s.stats.writeErrors.Load(),
		ShuttingDown:   s.shutdown.Load(),
	}
}

// StatsHandler serves Stats encoded by the codec the Accept header asks
// for (JSON by default).
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(req *http.Request) *http.Response {
		return codec.Respond(req, s.Stats())
	}
}

// String renders the snapshot as human-readable text
func (st Stats) String() string {
	return fmt.Sprintf(`Server Statistics
=================

Workers:         %d (active %d)
Queue:           %d pending, %d queued total
Completed:       %d
Accepted:        %d
Accept errors:   %d
Protocol errors: %d
Write errors:    %d
Panics:          %d
Shutting down:   %t
`,
		st.Workers, st.Active,
		st.Pending, st.Queued,
		st.Completed,
		st.Accepted,
		st.AcceptErrors,
		st.ProtocolErrors,
		st.WriteErrors,
		st.Panics,
		st.ShuttingDown,
	)
}
