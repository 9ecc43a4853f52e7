// Package session confines an annotation store to a single owner goroutine.
// Everything that touches the store, UI edits, detection results, export
// reads, is posted as a closure and runs serialized in arrival order, so the
// store itself needs no locks.
package session

import (
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/videoanon/defacer/pkg/anno"
)

// Session owns an annotation store. Closures posted with Post and PostWait
// are the only way to reach the store.
type Session struct {
	// ID identifies this editing session in logs.
	ID uuid.UUID

	log    logs.Log
	store  *anno.Store
	ops    chan func(*anno.Store)
	closed chan bool // closed when the owner goroutine exits
}

// NewSession starts a session owning a fresh store.
func NewSession(log logs.Log) *Session {
	return newSession(log, anno.NewStore())
}

// NewSessionFromFile starts a session owning a store loaded from an
// annotation JSON file.
func NewSessionFromFile(log logs.Log, path string) (*Session, error) {
	store, err := anno.Load(path)
	if err != nil {
		return nil, err
	}
	return newSession(log, store), nil
}

func newSession(log logs.Log, store *anno.Store) *Session {
	s := &Session{
		ID:     uuid.New(),
		log:    log,
		store:  store,
		ops:    make(chan func(*anno.Store), 64),
		closed: make(chan bool),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for op := range s.ops {
		op(s.store)
	}
	close(s.closed)
}

// Post queues op for execution on the owner goroutine and returns
// immediately. Must not be called after Close.
func (s *Session) Post(op func(store *anno.Store)) {
	s.ops <- op
}

// PostWait runs op on the owner goroutine and waits for it to finish.
// Reads extract their results through variables captured by op.
func (s *Session) PostWait(op func(store *anno.Store)) {
	done := make(chan bool)
	s.ops <- func(store *anno.Store) {
		op(store)
		close(done)
	}
	<-done
}

// NewTrackID mints a track id through the owner goroutine, so background
// producers can reserve ids without racing posted mutations.
func (s *Session) NewTrackID() int64 {
	id := int64(0)
	s.PostWait(func(store *anno.Store) {
		id = store.NewTrackID()
	})
	return id
}

// Save writes the store to path once all previously posted ops have run.
func (s *Session) Save(path string) error {
	var err error
	s.PostWait(func(store *anno.Store) {
		err = store.Save(path)
	})
	return err
}

// Close drains pending ops and stops the owner goroutine. The session is
// unusable afterwards.
func (s *Session) Close() {
	close(s.ops)
	<-s.closed
	s.log.Infof("Session %v closed", s.ID)
}
