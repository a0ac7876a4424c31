package mail

import (
	"context"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/cache"
	"triage_server/pkg/logger"

	"golang.org/x/oauth2"
)

const labelCacheTTL = time.Hour

// LabelResolver makes sure the app's own labels exist and remembers their ids per user.
type LabelResolver struct {
	provider out.MailProvider
	cache    cache.Cache
}

func NewLabelResolver(provider out.MailProvider, c cache.Cache) *LabelResolver {
	return &LabelResolver{provider: provider, cache: c}
}

func labelCacheKey(userID string) string {
	return "labels:" + userID
}

// IDs returns name → id for the required labels, creating missing ones.
func (r *LabelResolver) IDs(ctx context.Context, userID string, tok *oauth2.Token) (map[string]string, error) {
	var ids map[string]string
	if ok, err := r.cache.GetJSON(ctx, labelCacheKey(userID), &ids); err != nil {
		logger.WithError(err).Warn("[LabelResolver] cache read failed for user %s", userID)
	} else if ok && hasAllRequired(ids) {
		return ids, nil
	}

	_, ids, err := r.Ensure(ctx, userID, tok)
	return ids, err
}

// SnoozedID resolves the id of the snooze label.
func (r *LabelResolver) SnoozedID(ctx context.Context, userID string, tok *oauth2.Token) (string, error) {
	ids, err := r.IDs(ctx, userID, tok)
	if err != nil {
		return "", err
	}
	return ids[domain.LabelNameSnoozed], nil
}

// Ensure lists the mailbox labels, creates any missing required label and
// refreshes the cache. It returns the full label list.
func (r *LabelResolver) Ensure(ctx context.Context, userID string, tok *oauth2.Token) ([]out.ProviderLabel, map[string]string, error) {
	labels, err := r.provider.ListLabels(ctx, tok)
	if err != nil {
		return nil, nil, err
	}

	conflicted := false
	ids := requiredIDs(labels)
	for _, name := range domain.RequiredLabels {
		if _, ok := ids[name]; ok {
			continue
		}
		label, err := r.provider.CreateLabel(ctx, tok, name)
		switch {
		case err == nil:
			labels = append(labels, *label)
			ids[name] = label.ID
		case out.IsProviderError(err, out.ProviderErrConflict):
			conflicted = true
		default:
			return nil, nil, err
		}
	}

	// A conflict means the label appeared since we listed; read it back.
	if conflicted {
		if labels, err = r.provider.ListLabels(ctx, tok); err != nil {
			return nil, nil, err
		}
		ids = requiredIDs(labels)
	}

	if hasAllRequired(ids) {
		if err := r.cache.SetJSON(ctx, labelCacheKey(userID), ids, labelCacheTTL); err != nil {
			logger.WithError(err).Warn("[LabelResolver] cache write failed for user %s", userID)
		}
	}
	return labels, ids, nil
}

func requiredIDs(labels []out.ProviderLabel) map[string]string {
	ids := make(map[string]string, len(domain.RequiredLabels))
	for _, l := range labels {
		for _, name := range domain.RequiredLabels {
			if l.Name == name {
				ids[name] = l.ID
			}
		}
	}
	return ids
}

func hasAllRequired(ids map[string]string) bool {
	for _, name := range domain.RequiredLabels {
		if ids[name] == "" {
			return false
		}
	}
	return true
}
