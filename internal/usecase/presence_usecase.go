package usecase

import (
	"context"
	"sync"
	"time"

	"timbermart/internal/domain/entity"
	"timbermart/internal/domain/repository"
	"timbermart/pkg/errors"
	"timbermart/pkg/logger"
)

type PresenceConfig struct {
	IdleThreshold  time.Duration
	SweepInterval  time.Duration
	CoalesceWindow time.Duration
	StoreTimeout   time.Duration
}

// PresenceUseCase is the only writer of presence state. Touches are buffered
// and written at least once per coalesce window; the sweeper demotes idle
// participants and notifies their live threads.
type PresenceUseCase struct {
	participantRepo repository.ParticipantRepository
	chatRepo        repository.ChatRepository
	notifier        Notifier
	cfg             PresenceConfig
	now             func() time.Time

	mu      sync.Mutex
	pending map[entity.ParticipantKey]time.Time

	// flushMu serialises writes so a sweep never runs ahead of a flush in flight.
	flushMu sync.Mutex
}

func NewPresenceUseCase(
	participantRepo repository.ParticipantRepository,
	chatRepo repository.ChatRepository,
	cfg PresenceConfig,
) *PresenceUseCase {
	return &PresenceUseCase{
		participantRepo: participantRepo,
		chatRepo:        chatRepo,
		notifier:        nopNotifier{},
		cfg:             cfg,
		now:             time.Now,
		pending:         make(map[entity.ParticipantKey]time.Time),
	}
}

func (uc *PresenceUseCase) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	uc.notifier = n
}

// Touch records activity without touching the store.
func (uc *PresenceUseCase) Touch(userID string, role entity.Role) {
	if userID == "" || !role.Valid() {
		return
	}
	at := uc.now().UTC()

	uc.mu.Lock()
	uc.pending[entity.ParticipantKey{UserID: userID, Role: role}] = at
	uc.mu.Unlock()
}

// Flush writes every buffered touch.
func (uc *PresenceUseCase) Flush(ctx context.Context) error {
	uc.flushMu.Lock()
	defer uc.flushMu.Unlock()

	uc.mu.Lock()
	if len(uc.pending) == 0 {
		uc.mu.Unlock()
		return nil
	}
	batch := uc.pending
	uc.pending = make(map[entity.ParticipantKey]time.Time)
	uc.mu.Unlock()

	touches := make([]repository.PresenceTouch, 0, len(batch))
	for key, at := range batch {
		touches = append(touches, repository.PresenceTouch{UserID: key.UserID, Role: key.Role, At: at})
	}

	storeCtx, cancel := withStoreTimeout(ctx, uc.cfg.StoreTimeout)
	defer cancel()

	if err := uc.participantRepo.Touch(storeCtx, touches); err != nil {
		// Put the batch back unless a newer touch already replaced it.
		uc.mu.Lock()
		for key, at := range batch {
			if newer, ok := uc.pending[key]; !ok || newer.Before(at) {
				uc.pending[key] = at
			}
		}
		uc.mu.Unlock()
		return err
	}
	return nil
}

// RunFlusher flushes buffered touches every coalesce window until ctx is done,
// then flushes once more.
func (uc *PresenceUseCase) RunFlusher(ctx context.Context) error {
	ticker := time.NewTicker(uc.cfg.CoalesceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := uc.Flush(context.WithoutCancel(ctx)); err != nil {
				logger.Error("Presence: final flush failed: %v", err)
			}
			return nil
		case <-ticker.C:
			if err := uc.Flush(ctx); err != nil {
				logger.Warn("Presence: flush failed: %v", err)
			}
		}
	}
}

// Sweep demotes participants idle for longer than the threshold and returns
// how many changed.
func (uc *PresenceUseCase) Sweep(ctx context.Context) (int, error) {
	if err := uc.Flush(ctx); err != nil {
		return 0, err
	}

	uc.flushMu.Lock()
	cutoff := uc.now().UTC().Add(-uc.cfg.IdleThreshold)
	storeCtx, cancel := withStoreTimeout(ctx, uc.cfg.StoreTimeout)
	demoted, err := uc.participantRepo.DemoteIdle(storeCtx, cutoff)
	cancel()
	uc.flushMu.Unlock()
	if err != nil {
		return 0, err
	}

	for _, key := range demoted {
		uc.notifyThreads(ctx, key.UserID, key.Role, false)
	}
	if len(demoted) > 0 {
		logger.Info("Presence: demoted %d idle participants", len(demoted))
	}
	return len(demoted), nil
}

// Run is the sweeper loop. It exits within one iteration of ctx being done.
func (uc *PresenceUseCase) Run(ctx context.Context) error {
	ticker := time.NewTicker(uc.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := uc.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Presence: sweep failed: %v", err)
			}
		}
	}
}

// ExplicitOffline demotes the participant immediately, e.g. on logout.
func (uc *PresenceUseCase) ExplicitOffline(ctx context.Context, userID string, role entity.Role) error {
	if !role.Valid() {
		return errors.BadRequest("user_type must be buyer or seller", nil)
	}

	uc.flushMu.Lock()
	uc.mu.Lock()
	delete(uc.pending, entity.ParticipantKey{UserID: userID, Role: role})
	uc.mu.Unlock()

	storeCtx, cancel := withStoreTimeout(ctx, uc.cfg.StoreTimeout)
	changed, err := uc.participantRepo.SetOffline(storeCtx, userID, role)
	cancel()
	uc.flushMu.Unlock()
	if err != nil {
		return err
	}

	if changed {
		uc.notifyThreads(ctx, userID, role, false)
	}
	return nil
}

// Status returns the participant's presence, including touches not yet written.
func (uc *PresenceUseCase) Status(ctx context.Context, userID string, role entity.Role) (*entity.Participant, error) {
	storeCtx, cancel := withStoreTimeout(ctx, uc.cfg.StoreTimeout)
	defer cancel()

	participant, err := uc.participantRepo.Get(storeCtx, userID, role)
	if err != nil {
		if !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}
		participant = &entity.Participant{ID: userID, Role: role}
	}

	uc.mu.Lock()
	at, pending := uc.pending[entity.ParticipantKey{UserID: userID, Role: role}]
	uc.mu.Unlock()
	if pending {
		participant.IsOnline = true
		participant.LastActivity = at
	}
	return participant, nil
}

func (uc *PresenceUseCase) notifyThreads(ctx context.Context, userID string, role entity.Role, online bool) {
	storeCtx, cancel := withStoreTimeout(ctx, uc.cfg.StoreTimeout)
	defer cancel()

	threads, err := uc.chatRepo.ListThreadsByParticipant(storeCtx, userID, role)
	if err != nil {
		logger.Warn("Presence: failed to list threads for %s %s: %v", role, userID, err)
		return
	}
	for _, t := range threads {
		uc.notifier.DeliverPresence(t.ID, userID, role, online)
	}
}
