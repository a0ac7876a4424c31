package mail

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"

	"golang.org/x/oauth2"
)

var errExpired = out.NewProviderError("gmail", out.ProviderErrTokenExpired, "Token expired", nil, false)

type fakeProvider struct {
	mu       sync.Mutex
	messages map[string]*out.ProviderMessage
	labels   []out.ProviderLabel
	rejected map[string]bool // access tokens the provider treats as expired
	failGet  map[string]bool

	queries   []string
	created   []string
	modified  []string
	sent      []*out.ProviderOutgoingMessage
	metaCalls atomic.Int64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		messages: map[string]*out.ProviderMessage{},
		rejected: map[string]bool{},
		failGet:  map[string]bool{},
	}
}

func (p *fakeProvider) add(id, subject string, at time.Time, labels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[id] = &out.ProviderMessage{
		ID:         id,
		ThreadID:   "t-" + id,
		Subject:    subject,
		From:       "Sender <sender@example.com>",
		Date:       at.Format(time.RFC1123Z),
		Snippet:    "snippet " + id,
		LabelIDs:   labels,
		InternalAt: at,
		HTMLBody:   "<p>" + subject + "</p>",
	}
}

func (p *fakeProvider) check(tok *oauth2.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok == nil || p.rejected[tok.AccessToken] {
		return errExpired
	}
	return nil
}

func (p *fakeProvider) ListMessages(_ context.Context, tok *oauth2.Token, opts *out.ProviderListOptions) (*out.ProviderListResult, error) {
	if err := p.check(tok); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, opts.Query)

	var after int64
	if strings.HasPrefix(opts.Query, "after:") {
		after, _ = strconv.ParseInt(strings.TrimPrefix(opts.Query, "after:"), 10, 64)
	}
	var msgs []*out.ProviderMessage
	for _, m := range p.messages {
		if m.InternalAt.Unix() < after {
			continue
		}
		if len(opts.LabelIDs) > 0 && !domain.HasLabel(m.LabelIDs, opts.LabelIDs[0]) {
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].InternalAt.After(msgs[j].InternalAt) })
	if opts.MaxResults > 0 && int64(len(msgs)) > opts.MaxResults {
		msgs = msgs[:opts.MaxResults]
	}
	res := &out.ProviderListResult{}
	for _, m := range msgs {
		res.MessageIDs = append(res.MessageIDs, m.ID)
	}
	return res, nil
}

func (p *fakeProvider) get(tok *oauth2.Token, id string) (*out.ProviderMessage, error) {
	if err := p.check(tok); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failGet[id] {
		return nil, out.NewProviderError("gmail", out.ProviderErrServer, "boom", nil, true)
	}
	m, ok := p.messages[id]
	if !ok {
		return nil, out.NewProviderError("gmail", out.ProviderErrNotFound, "Not found", nil, false)
	}
	cp := *m
	return &cp, nil
}

func (p *fakeProvider) GetMetadata(_ context.Context, tok *oauth2.Token, id string, _ ...string) (*out.ProviderMessage, error) {
	p.metaCalls.Add(1)
	return p.get(tok, id)
}

func (p *fakeProvider) GetMessage(_ context.Context, tok *oauth2.Token, id string) (*out.ProviderMessage, error) {
	return p.get(tok, id)
}

func (p *fakeProvider) ModifyLabels(_ context.Context, tok *oauth2.Token, id string, add, remove []string) error {
	if err := p.check(tok); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modified = append(p.modified, id)
	return nil
}

func (p *fakeProvider) ListLabels(_ context.Context, tok *oauth2.Token) ([]out.ProviderLabel, error) {
	if err := p.check(tok); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]out.ProviderLabel(nil), p.labels...), nil
}

func (p *fakeProvider) GetLabel(_ context.Context, tok *oauth2.Token, id string) (*out.ProviderLabel, error) {
	if err := p.check(tok); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.labels {
		if l.ID == id {
			l.MessagesUnread = 7
			return &l, nil
		}
	}
	return nil, out.NewProviderError("gmail", out.ProviderErrNotFound, "Not found", nil, false)
}

func (p *fakeProvider) CreateLabel(_ context.Context, tok *oauth2.Token, name string) (*out.ProviderLabel, error) {
	if err := p.check(tok); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.labels {
		if l.Name == name {
			return nil, out.NewProviderError("gmail", out.ProviderErrConflict, "exists", nil, false)
		}
	}
	p.created = append(p.created, name)
	l := out.ProviderLabel{ID: "Label_" + name, Name: name, Type: "user"}
	p.labels = append(p.labels, l)
	return &l, nil
}

func (p *fakeProvider) GetAttachment(_ context.Context, tok *oauth2.Token, _, _ string) ([]byte, error) {
	if err := p.check(tok); err != nil {
		return nil, err
	}
	return []byte("%PDF"), nil
}

func (p *fakeProvider) Send(_ context.Context, tok *oauth2.Token, msg *out.ProviderOutgoingMessage) (*out.ProviderSendResult, error) {
	if err := p.check(tok); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return &out.ProviderSendResult{ID: "sent-" + strconv.Itoa(len(p.sent)), ThreadID: msg.ThreadID}, nil
}

type fakeAccounts struct {
	mu      sync.Mutex
	rows    map[string]*domain.LinkedAccount
	updates []domain.TokenUpdate
}

func newFakeAccounts(accounts ...*domain.LinkedAccount) *fakeAccounts {
	f := &fakeAccounts{rows: map[string]*domain.LinkedAccount{}}
	for _, a := range accounts {
		f.rows[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) Create(_ context.Context, a *domain.LinkedAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[a.ID] = a
	return nil
}

func (f *fakeAccounts) GetByUser(_ context.Context, userID string, p domain.OAuthProvider) (*domain.LinkedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.UserID == userID && a.Provider == p {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) GetByProviderID(context.Context, domain.OAuthProvider, string) (*domain.LinkedAccount, error) {
	return nil, nil
}

func (f *fakeAccounts) ListByProvider(_ context.Context, p domain.OAuthProvider) ([]*domain.LinkedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*domain.LinkedAccount
	for _, a := range f.rows {
		if a.Provider == p {
			cp := *a
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (f *fakeAccounts) UpdateTokens(_ context.Context, id string, u domain.TokenUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	a, ok := f.rows[id]
	if !ok {
		return errors.New("no such account")
	}
	a.AccessToken = u.AccessToken
	if u.RefreshToken != "" {
		a.RefreshToken = u.RefreshToken
	}
	a.TokenExpiry = u.Expiry
	return nil
}

func (f *fakeAccounts) stored(id string) domain.LinkedAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

type fakeIdentity struct {
	calls   atomic.Int64
	rotate  bool
	err     error
	release chan struct{}
}

func (f *fakeIdentity) Exchange(context.Context, string) (*out.GoogleIdentity, error) {
	return nil, errors.New("not used")
}

func (f *fakeIdentity) Refresh(_ context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	fresh := &oauth2.Token{
		AccessToken:  "fresh-" + strconv.FormatInt(n, 10),
		RefreshToken: tok.RefreshToken,
		Expiry:       time.Now().Add(time.Hour),
	}
	if f.rotate {
		fresh.RefreshToken = "rotated-" + strconv.FormatInt(n, 10)
	}
	return fresh, nil
}

type fakeMetadata struct {
	mu     sync.Mutex
	rows   map[string]*domain.EmailMetadata
	writes int
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{rows: map[string]*domain.EmailMetadata{}}
}

func (f *fakeMetadata) LatestReceivedAt(_ context.Context, userID string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for _, m := range f.rows {
		if m.UserID == userID && (latest == nil || m.ReceivedAt.After(*latest)) {
			d := m.ReceivedAt
			latest = &d
		}
	}
	return latest, nil
}

func (f *fakeMetadata) BulkUpsert(_ context.Context, items []*domain.EmailMetadata) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	for _, m := range items {
		f.rows[m.UserID+"|"+m.MessageID] = m
	}
	return int64(len(items)), nil
}

func (f *fakeMetadata) Search(_ context.Context, userID, query string, limit int) ([]*domain.EmailMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := strings.ToLower(query)
	var res []*domain.EmailMetadata
	for _, m := range f.rows {
		if m.UserID != userID {
			continue
		}
		if strings.Contains(strings.ToLower(m.Subject), q) ||
			strings.Contains(strings.ToLower(m.From), q) ||
			strings.Contains(strings.ToLower(m.Snippet), q) {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.After(res[j].Date) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

type fakeSummaries struct {
	mu   sync.Mutex
	rows map[string]*domain.EmailSummary
}

func (f *fakeSummaries) Get(_ context.Context, userID, messageID string) (*domain.EmailSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[userID+"|"+messageID], nil
}

func (f *fakeSummaries) Create(_ context.Context, s *domain.EmailSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := s.UserID + "|" + s.MessageID
	if _, ok := f.rows[key]; ok {
		return out.ErrDuplicateKey
	}
	f.rows[key] = s
	return nil
}

type fakeSummarizer struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSummarizer) Summarize(context.Context, string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "A short summary.", nil
}

func validAccount(id, userID string) *domain.LinkedAccount {
	return &domain.LinkedAccount{
		ID:           id,
		UserID:       userID,
		Provider:     domain.ProviderGoogle,
		ProviderID:   "g-" + id,
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		TokenExpiry:  time.Now().Add(time.Hour),
	}
}

func validToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "access", Expiry: time.Now().Add(time.Hour)}
}
