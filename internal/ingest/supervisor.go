package ingest

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nhle/onebox/internal/model"
)

// Supervisor owns the set of per-account connectors. It is the only
// writer of that set: connectors are created at construction and run as
// independent goroutines, so a failure in one account's session never
// affects another's.
type Supervisor struct {
	connectors []*Connector
	log        *logrus.Entry

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// NewSupervisor builds one connector per configured account.
func NewSupervisor(
	accounts []model.AccountConfig,
	sink MessageSink,
	log *logrus.Entry,
) *Supervisor {
	s := &Supervisor{log: log}
	for _, account := range accounts {
		s.connectors = append(s.connectors, NewConnector(account, sink, log))
	}
	return s
}

// Start launches every connector. Calling Start twice is a no-op.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, c := range s.connectors {
		s.wg.Add(1)
		go func(c *Connector) {
			defer s.wg.Done()
			c.Run()
		}(c)
	}
	s.log.WithField("accounts", len(s.connectors)).Info("ingestion started")
}

// Stop asks every connector to shut down and waits for them to return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	for _, c := range s.connectors {
		c.Stop()
	}
	s.wg.Wait()
	s.log.Info("ingestion stopped")
}
