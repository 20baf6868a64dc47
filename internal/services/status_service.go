package services

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/context8/context8-docker/internal/embeddings"
	"github.com/context8/context8-docker/internal/queue"
)

// ComponentStatus is one dependency's health.
type ComponentStatus struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// QueueStatus is one queue's depth.
type QueueStatus struct {
	Ready   int64 `json:"ready"`
	Delayed int64 `json:"delayed"`
}

// Status is the full dependency report.
type Status struct {
	Ledger    ComponentStatus        `json:"ledger"`
	Redis     ComponentStatus        `json:"redis"`
	Index     ComponentStatus        `json:"index"`
	Embedding ComponentStatus        `json:"embedding"`
	Queues    map[string]QueueStatus `json:"queues"`
	Documents uint64                 `json:"documents"`
}

// docCounter is the index surface the status probe needs.
type docCounter interface {
	DocCount() (uint64, error)
}

// StatusService probes every dependency with a short per-probe timeout.
type StatusService struct {
	db       *sqlx.DB
	rdb      *redis.Client
	index    docCounter
	embedder *embeddings.Service
	queues   []*queue.Queue
}

// NewStatusService creates a StatusService.
func NewStatusService(db *sqlx.DB, rdb *redis.Client, index docCounter, embedder *embeddings.Service, queues ...*queue.Queue) *StatusService {
	return &StatusService{db: db, rdb: rdb, index: index, embedder: embedder, queues: queues}
}

// Check runs all probes. It never returns an error; failures land in the
// report.
func (s *StatusService) Check(ctx context.Context) *Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st := &Status{Queues: map[string]QueueStatus{}}

	if err := s.db.PingContext(ctx); err != nil {
		st.Ledger = ComponentStatus{Healthy: false, Detail: err.Error()}
	} else {
		st.Ledger = ComponentStatus{Healthy: true}
	}

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		st.Redis = ComponentStatus{Healthy: false, Detail: err.Error()}
	} else {
		st.Redis = ComponentStatus{Healthy: true}
	}

	if n, err := s.index.DocCount(); err != nil {
		st.Index = ComponentStatus{Healthy: false, Detail: err.Error()}
	} else {
		st.Index = ComponentStatus{Healthy: true}
		st.Documents = n
	}

	if s.embedder.Enabled() {
		st.Embedding = ComponentStatus{Healthy: s.embedder.Healthy(ctx)}
	} else {
		st.Embedding = ComponentStatus{Healthy: true, Detail: "disabled"}
	}

	for _, q := range s.queues {
		ready, delayed, err := q.Len(ctx)
		if err != nil {
			st.Queues[q.Name()] = QueueStatus{}
			continue
		}
		st.Queues[q.Name()] = QueueStatus{Ready: ready, Delayed: delayed}
	}
	return st
}
