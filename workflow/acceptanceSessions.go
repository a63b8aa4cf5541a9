package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound   = errors.New("acceptance session not found")
	ErrTransactionLocked = errors.New("transaction is already being accepted")
)

// SessionOwner is the user and party that opened a session.
type SessionOwner struct {
	UserId  int
	PartyId int
}

// AcceptanceSession owns one workflow for as long as the receiver keeps it open.
type AcceptanceSession struct {
	ID            string
	TransactionId int
	Owner         SessionOwner
	Workflow      *AcceptanceWorkflow

	lock     *redislock.Lock
	lastSeen time.Time
}

// OwnedBy reports whether the caller is the one who opened the session.
func (s *AcceptanceSession) OwnedBy(userId, partyId int) bool {
	return s.Owner == SessionOwner{UserId: userId, PartyId: partyId}
}

// SessionRegistry keeps at most one open session per transaction. Across instances
// this is enforced with a redis lock; without redis only this process is guarded.
type SessionRegistry struct {
	mu            sync.Mutex
	sessions      map[string]*AcceptanceSession
	byTransaction map[int]string

	locker *redislock.Client
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

func NewSessionRegistry(locker *redislock.Client, ttl time.Duration, logger *logrus.Logger) *SessionRegistry {
	if ttl <= 0 {
		ttl = config.AcceptanceSessionTTL()
	}
	return &SessionRegistry{
		sessions:      map[string]*AcceptanceSession{},
		byTransaction: map[int]string{},
		locker:        locker,
		ttl:           ttl,
		logger:        logger,
		now:           time.Now,
	}
}

// UseLocker installs the redis lock client once redis is reachable.
// Sessions opened before keep running without a lock.
func (r *SessionRegistry) UseLocker(locker *redislock.Client) {
	r.mu.Lock()
	r.locker = locker
	r.mu.Unlock()
}

func acceptanceLockKey(transactionId int) string {
	return fmt.Sprintf("acceptance:%d", transactionId)
}

// Open starts a workflow for txn on behalf of owner. It fails with ErrTransactionLocked while another
// session, here or on another instance, holds the transaction.
func (r *SessionRegistry) Open(ctx context.Context, owner SessionOwner, txn *models.Transaction, submitter AcceptanceSubmitter, opts ...Option) (*AcceptanceSession, error) {
	if txn == nil {
		return nil, errors.New("transaction is required")
	}
	r.EvictExpired(ctx)

	r.mu.Lock()
	if _, held := r.byTransaction[txn.ID]; held {
		r.mu.Unlock()
		return nil, ErrTransactionLocked
	}
	// reserve before talking to redis so two local opens cannot race
	r.byTransaction[txn.ID] = ""
	locker := r.locker
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if r.byTransaction[txn.ID] == "" {
			delete(r.byTransaction, txn.ID)
		}
		r.mu.Unlock()
	}

	var lock *redislock.Lock
	if locker != nil {
		var err error
		lock, err = locker.Obtain(ctx, acceptanceLockKey(txn.ID), r.ttl, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			return nil, ErrTransactionLocked
		} else if err != nil {
			release()
			config.LogError(r.logger, "acceptanceSessions.go", "Open", "Obtain lock", txn.ID, err)
			return nil, err
		}
	}

	wf, err := NewAcceptanceWorkflow(txn, submitter, opts...)
	if err != nil {
		release()
		r.releaseLock(ctx, lock, txn.ID)
		return nil, err
	}

	session := &AcceptanceSession{
		ID:            uuid.NewString(),
		TransactionId: txn.ID,
		Owner:         owner,
		Workflow:      wf,
		lock:          lock,
		lastSeen:      r.now(),
	}
	r.mu.Lock()
	r.sessions[session.ID] = session
	r.byTransaction[txn.ID] = session.ID
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"field":          "SessionRegistry",
			"session_id":     session.ID,
			"transaction_id": txn.ID,
			"user_id":        owner.UserId,
		}).Info("acceptance session opened")
	}
	return session, nil
}

// Get returns an open session and extends its lifetime.
func (r *SessionRegistry) Get(ctx context.Context, id string) (*AcceptanceSession, error) {
	r.EvictExpired(ctx)

	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		session.lastSeen = r.now()
	}
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if session.lock != nil {
		if err := session.lock.Refresh(ctx, r.ttl, nil); err != nil && r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"field":          "SessionRegistry",
				"session_id":     id,
				"transaction_id": session.TransactionId,
			}).Warn("failed to refresh acceptance lock: " + err.Error())
		}
	}
	return session, nil
}

// Cancel cancels the workflow and discards the session.
func (r *SessionRegistry) Cancel(ctx context.Context, id string) error {
	session, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := session.Workflow.Cancel(); err != nil && !errors.Is(err, ErrWorkflowComplete) {
		return err
	}
	r.Discard(ctx, id)
	return nil
}

// Discard drops the session and releases its transaction. Unknown ids are ignored.
func (r *SessionRegistry) Discard(ctx context.Context, id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		if r.byTransaction[session.TransactionId] == id {
			delete(r.byTransaction, session.TransactionId)
		}
	}
	r.mu.Unlock()
	if ok {
		r.releaseLock(ctx, session.lock, session.TransactionId)
	}
}

// EvictExpired discards idle sessions, skipping ones with a submission in flight.
func (r *SessionRegistry) EvictExpired(ctx context.Context) int {
	cutoff := r.now().Add(-r.ttl)
	var expired []string

	r.mu.Lock()
	for id, session := range r.sessions {
		if session.lastSeen.Before(cutoff) && !session.Workflow.InFlight() {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.Discard(ctx, id)
	}
	if len(expired) > 0 && r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"field":   "SessionRegistry",
			"evicted": len(expired),
		}).Info("expired acceptance sessions evicted")
	}
	return len(expired)
}

// Run evicts expired sessions every interval until ctx is done.
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictExpired(ctx)
		}
	}
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) releaseLock(ctx context.Context, lock *redislock.Lock, transactionId int) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) && r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"field":          "SessionRegistry",
			"transaction_id": transactionId,
		}).Warn("failed to release acceptance lock: " + err.Error())
	}
}
