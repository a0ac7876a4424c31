package snooze

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	mail "triage_server/core/service/email"
	"triage_server/pkg/cache"

	"golang.org/x/oauth2"
)

type modifyCall struct {
	messageID   string
	add, remove []string
}

// gmailStub tracks which messages sit in the inbox.
type gmailStub struct {
	mu      sync.Mutex
	inbox   map[string]bool
	labels  []out.ProviderLabel
	fail    map[string]error
	calls   []modifyCall
	missing map[string]bool

	// failRemoval fails only calls that take the message out of the inbox.
	failRemoval map[string]error
}

func newGmailStub(inInbox ...string) *gmailStub {
	g := &gmailStub{
		inbox:   map[string]bool{},
		fail:    map[string]error{},
		missing: map[string]bool{},

		failRemoval: map[string]error{},
		labels: []out.ProviderLabel{
			{ID: "INBOX", Name: "INBOX", Type: "system"},
			{ID: "L_TODO", Name: domain.LabelNameTodo},
			{ID: "L_DONE", Name: domain.LabelNameDone},
			{ID: "L_SNZ", Name: domain.LabelNameSnoozed},
		},
	}
	for _, id := range inInbox {
		g.inbox[id] = true
	}
	return g
}

func (g *gmailStub) ModifyLabels(_ context.Context, _ *oauth2.Token, id string, add, remove []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, modifyCall{messageID: id, add: add, remove: remove})
	if err := g.fail[id]; err != nil {
		return err
	}
	if err := g.failRemoval[id]; err != nil && domain.HasLabel(remove, domain.LabelInbox) {
		return err
	}
	if domain.HasLabel(add, domain.LabelInbox) {
		g.inbox[id] = true
	}
	if domain.HasLabel(remove, domain.LabelInbox) {
		g.inbox[id] = false
	}
	return nil
}

func (g *gmailStub) inInbox(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inbox[id]
}

func (g *gmailStub) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *gmailStub) ListLabels(context.Context, *oauth2.Token) ([]out.ProviderLabel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]out.ProviderLabel(nil), g.labels...), nil
}

func (g *gmailStub) CreateLabel(_ context.Context, _ *oauth2.Token, name string) (*out.ProviderLabel, error) {
	l := out.ProviderLabel{ID: "L_" + name, Name: name}
	g.mu.Lock()
	g.labels = append(g.labels, l)
	g.mu.Unlock()
	return &l, nil
}

func (g *gmailStub) GetMessage(_ context.Context, _ *oauth2.Token, id string) (*out.ProviderMessage, error) {
	if g.missing[id] {
		return nil, out.NewProviderError("gmail", out.ProviderErrNotFound, "Not found", nil, false)
	}
	return &out.ProviderMessage{ID: id, ThreadID: "t-" + id, Subject: "Subject " + id, From: "a@example.com"}, nil
}

func (g *gmailStub) ListMessages(context.Context, *oauth2.Token, *out.ProviderListOptions) (*out.ProviderListResult, error) {
	return &out.ProviderListResult{}, nil
}

func (g *gmailStub) GetMetadata(ctx context.Context, tok *oauth2.Token, id string, _ ...string) (*out.ProviderMessage, error) {
	return g.GetMessage(ctx, tok, id)
}

func (g *gmailStub) GetLabel(context.Context, *oauth2.Token, string) (*out.ProviderLabel, error) {
	return nil, errors.New("not used")
}

func (g *gmailStub) GetAttachment(context.Context, *oauth2.Token, string, string) ([]byte, error) {
	return nil, errors.New("not used")
}

func (g *gmailStub) Send(context.Context, *oauth2.Token, *out.ProviderOutgoingMessage) (*out.ProviderSendResult, error) {
	return nil, errors.New("not used")
}

// memSnoozes is a SnoozeRepository with the same compare-and-set rules as
// the Mongo adapter.
type memSnoozes struct {
	mu        sync.Mutex
	rows      map[string]*domain.SnoozeLog
	seq       int
	createErr error
}

func newMemSnoozes() *memSnoozes {
	return &memSnoozes{rows: map[string]*domain.SnoozeLog{}}
}

func (m *memSnoozes) Create(_ context.Context, log *domain.SnoozeLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, r := range m.rows {
		if r.Status.IsOpen() && r.UserID == log.UserID && r.MessageID == log.MessageID {
			return out.ErrDuplicateKey
		}
	}
	m.seq++
	log.ID = "s" + strconv.Itoa(m.seq)
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	cp := *log
	m.rows[log.ID] = &cp
	return nil
}

func (m *memSnoozes) put(log domain.SnoozeLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[log.ID] = &log
}

func (m *memSnoozes) get(id string) *domain.SnoozeLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (m *memSnoozes) GetByID(_ context.Context, id string) (*domain.SnoozeLog, error) {
	return m.get(id), nil
}

func (m *memSnoozes) FindActive(_ context.Context, userID, messageID string) (*domain.SnoozeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.UserID == userID && r.MessageID == messageID && r.Status == domain.SnoozeStatusActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memSnoozes) update(id string, from domain.SnoozeStatus, fn func(r *domain.SnoozeLog)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != from {
		return false
	}
	fn(r)
	return true
}

func (m *memSnoozes) Transition(_ context.Context, id string, from, to domain.SnoozeStatus) (bool, error) {
	return m.update(id, from, func(r *domain.SnoozeLog) { r.Status = to }), nil
}

func (m *memSnoozes) Reschedule(_ context.Context, id string, wake time.Time, labelID string) (bool, error) {
	return m.update(id, domain.SnoozeStatusActive, func(r *domain.SnoozeLog) {
		r.WakeUpTime = wake
		r.SnoozedLabelID = labelID
		r.Attempts = 0
		r.NextAttemptAt = nil
		r.LastError = ""
	}), nil
}

func (m *memSnoozes) RecordAttempt(_ context.Context, id string, from domain.SnoozeStatus, a domain.WakeAttempt) (bool, error) {
	return m.update(id, from, func(r *domain.SnoozeLog) {
		next := a.NextAttemptAt
		r.Status = a.Status
		r.Attempts = a.Attempts
		r.NextAttemptAt = &next
		r.LastError = a.LastError
	}), nil
}

func (m *memSnoozes) DeletePending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok && r.Status == domain.SnoozeStatusPending {
		delete(m.rows, id)
	}
	return nil
}

func (m *memSnoozes) list(match func(r *domain.SnoozeLog) bool, less func(a, b *domain.SnoozeLog) bool) []*domain.SnoozeLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*domain.SnoozeLog
	for _, r := range m.rows {
		if match(r) {
			cp := *r
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return less(res[i], res[j]) })
	return res
}

func byWake(a, b *domain.SnoozeLog) bool { return a.WakeUpTime.Before(b.WakeUpTime) }

func (m *memSnoozes) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.SnoozeLog, error) {
	res := m.list(func(r *domain.SnoozeLog) bool {
		return r.Status == domain.SnoozeStatusActive && !r.WakeUpTime.After(now) &&
			(r.NextAttemptAt == nil || !r.NextAttemptAt.After(now))
	}, byWake)
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memSnoozes) ListStalePending(_ context.Context, olderThan, now time.Time, limit int) ([]*domain.SnoozeLog, error) {
	res := m.list(func(r *domain.SnoozeLog) bool {
		return r.Status == domain.SnoozeStatusPending && r.CreatedAt.Before(olderThan) &&
			(r.NextAttemptAt == nil || !r.NextAttemptAt.After(now))
	}, func(a, b *domain.SnoozeLog) bool { return a.CreatedAt.Before(b.CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memSnoozes) ListActiveByUser(_ context.Context, userID string, skip, limit int) ([]*domain.SnoozeLog, int64, error) {
	res := m.list(func(r *domain.SnoozeLog) bool {
		return r.UserID == userID && r.Status == domain.SnoozeStatusActive
	}, byWake)
	total := int64(len(res))
	if skip >= len(res) {
		return nil, total, nil
	}
	res = res[skip:]
	if len(res) > limit {
		res = res[:limit]
	}
	return res, total, nil
}

type staticAccounts struct {
	rows map[string]*domain.LinkedAccount
}

func newStaticAccounts(userIDs ...string) *staticAccounts {
	a := &staticAccounts{rows: map[string]*domain.LinkedAccount{}}
	for _, u := range userIDs {
		a.rows[u] = &domain.LinkedAccount{
			ID:          "acc-" + u,
			UserID:      u,
			Provider:    domain.ProviderGoogle,
			AccessToken: "access-" + u,
			TokenExpiry: time.Now().Add(time.Hour),
		}
	}
	return a
}

func (a *staticAccounts) Create(context.Context, *domain.LinkedAccount) error { return nil }

func (a *staticAccounts) GetByUser(_ context.Context, userID string, _ domain.OAuthProvider) (*domain.LinkedAccount, error) {
	if acc, ok := a.rows[userID]; ok {
		cp := *acc
		return &cp, nil
	}
	return nil, nil
}

func (a *staticAccounts) GetByProviderID(context.Context, domain.OAuthProvider, string) (*domain.LinkedAccount, error) {
	return nil, nil
}

func (a *staticAccounts) ListByProvider(context.Context, domain.OAuthProvider) ([]*domain.LinkedAccount, error) {
	return nil, nil
}

func (a *staticAccounts) UpdateTokens(context.Context, string, domain.TokenUpdate) error { return nil }

type noRefresh struct{}

func (noRefresh) Exchange(context.Context, string) (*out.GoogleIdentity, error) {
	return nil, errors.New("not used")
}

func (noRefresh) Refresh(context.Context, *oauth2.Token) (*oauth2.Token, error) {
	return nil, errors.New("refresh not expected")
}

type fixture struct {
	gmail *gmailStub
	repo  *memSnoozes
	creds *mail.CredentialResolver
	svc   *Service
	wake  *WakeService
	now   time.Time
}

func newFixture(inInbox ...string) *fixture {
	f := &fixture{
		gmail: newGmailStub(inInbox...),
		repo:  newMemSnoozes(),
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.creds = mail.NewCredentialResolver(newStaticAccounts("u1", "u2"), noRefresh{})
	labels := mail.NewLabelResolver(f.gmail, cache.NewMemoryCache(8, time.Minute))
	details := detailerFunc(func(ctx context.Context, userID string, ids []string) ([]domain.EmailListItem, error) {
		var items []domain.EmailListItem
		for _, id := range ids {
			if msg, err := f.gmail.GetMessage(ctx, nil, id); err == nil {
				items = append(items, domain.EmailListItem{ID: msg.ID, ThreadID: msg.ThreadID, Subject: msg.Subject})
			}
		}
		return items, nil
	})

	f.svc = NewService(f.repo, f.gmail, f.creds, labels, details)
	f.svc.now = func() time.Time { return f.now }
	f.wake = NewWakeService(f.repo, f.gmail, f.creds, domain.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour})
	f.wake.now = func() time.Time { return f.now }
	return f
}

type detailerFunc func(ctx context.Context, userID string, ids []string) ([]domain.EmailListItem, error)

func (f detailerFunc) BasicDetails(ctx context.Context, userID string, ids []string) ([]domain.EmailListItem, error) {
	return f(ctx, userID, ids)
}
