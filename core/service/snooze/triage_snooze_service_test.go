package snooze

import (
	"context"
	"testing"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errGmailDown = out.NewProviderError("gmail", out.ProviderErrServer, "backend error", nil, true)

func TestSnooze_RejectsInvalidRequestBeforeWriting(t *testing.T) {
	f := newFixture("m1")
	tests := []struct {
		name string
		req  in.SnoozeRequest
	}{
		{"missing message", in.SnoozeRequest{WakeUpTime: f.now.Add(time.Hour)}},
		{"missing time", in.SnoozeRequest{MessageID: "m1"}},
		{"past time", in.SnoozeRequest{MessageID: "m1", WakeUpTime: f.now.Add(-time.Minute)}},
		{"now", in.SnoozeRequest{MessageID: "m1", WakeUpTime: f.now}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.svc.Snooze(context.Background(), "u1", &req)
			assert.True(t, apperr.HasCode(err, apperr.CodeValidationFailed), "got %v", err)
		})
	}
	assert.Empty(t, f.repo.rows)
	assert.Zero(t, f.gmail.callCount())
}

func TestSnooze_ActiveOnlyAfterRemoteSuccess(t *testing.T) {
	f := newFixture("m1")
	wake := f.now.Add(3 * time.Hour)

	log, err := f.svc.Snooze(context.Background(), "u1", &in.SnoozeRequest{MessageID: "m1", WakeUpTime: wake})
	require.NoError(t, err)
	assert.Equal(t, domain.SnoozeStatusActive, log.Status)
	assert.Equal(t, "L_SNZ", log.SnoozedLabelID)
	assert.Equal(t, []string{"INBOX"}, log.RestoreLabelIDs)
	assert.False(t, f.gmail.inInbox("m1"))

	stored := f.repo.get(log.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.SnoozeStatusActive, stored.Status)
	assert.True(t, stored.WakeUpTime.Equal(wake))

	call := f.gmail.calls[0]
	assert.Equal(t, []string{"L_SNZ"}, call.add)
	assert.Equal(t, []string{"INBOX"}, call.remove)
}

func TestSnooze_RemoteFailureRestoresAndLeavesNoRow(t *testing.T) {
	f := newFixture("m1")
	f.gmail.failRemoval["m1"] = errGmailDown

	_, err := f.svc.Snooze(context.Background(), "u1", &in.SnoozeRequest{MessageID: "m1", WakeUpTime: f.now.Add(time.Hour)})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeExternalError))
	assert.Empty(t, f.repo.rows)
	assert.True(t, f.gmail.inInbox("m1"))

	require.Equal(t, 2, f.gmail.callCount())
	undo := f.gmail.calls[1]
	assert.Equal(t, []string{"INBOX"}, undo.add)
	assert.Equal(t, []string{"L_SNZ"}, undo.remove)
}

// When the message cannot be put back, the intent stays for the wake job,
// which finishes the snooze instead of losing track of the message.
func TestSnooze_UnrestorableFailureLeavesIntentForRecovery(t *testing.T) {
	f := newFixture("m1")
	f.gmail.fail["m1"] = errGmailDown
	wake := f.now.Add(time.Hour)

	_, err := f.svc.Snooze(context.Background(), "u1", &in.SnoozeRequest{MessageID: "m1", WakeUpTime: wake})
	require.Error(t, err)
	require.Len(t, f.repo.rows, 1)

	var intent domain.SnoozeLog
	for _, r := range f.repo.rows {
		intent = *r
	}
	assert.Equal(t, domain.SnoozeStatusPending, intent.Status)
	intent.CreatedAt = f.now.Add(-5 * time.Minute)
	f.repo.put(intent)

	delete(f.gmail.fail, "m1")
	report, err := f.wake.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, domain.SnoozeStatusActive, f.repo.get(intent.ID).Status)
	assert.False(t, f.gmail.inInbox("m1"))
}

func TestSnooze_ExistingActiveIsRescheduled(t *testing.T) {
	f := newFixture()
	next := f.now.Add(-time.Minute)
	f.repo.put(domain.SnoozeLog{
		ID: "s9", UserID: "u1", MessageID: "m1", Status: domain.SnoozeStatusActive,
		WakeUpTime: f.now.Add(time.Hour), Attempts: 2, NextAttemptAt: &next, LastError: "boom",
		RestoreLabelIDs: []string{"INBOX"},
	})
	later := f.now.Add(24 * time.Hour)

	log, err := f.svc.Snooze(context.Background(), "u1", &in.SnoozeRequest{MessageID: "m1", WakeUpTime: later})
	require.NoError(t, err)
	assert.Equal(t, "s9", log.ID)
	assert.Len(t, f.repo.rows, 1)

	stored := f.repo.get("s9")
	assert.True(t, stored.WakeUpTime.Equal(later))
	assert.Zero(t, stored.Attempts)
	assert.Nil(t, stored.NextAttemptAt)
	assert.Empty(t, stored.LastError)
	assert.Equal(t, 1, f.gmail.callCount())
}

func TestSnooze_CreatesSnoozedLabelWhenMissing(t *testing.T) {
	f := newFixture("m1")
	f.gmail.labels = f.gmail.labels[:3]

	log, err := f.svc.Snooze(context.Background(), "u1", &in.SnoozeRequest{MessageID: "m1", WakeUpTime: f.now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "L_Snoozed", log.SnoozedLabelID)
}

func TestSnooze_NoLinkedAccount(t *testing.T) {
	f := newFixture("m1")

	_, err := f.svc.Snooze(context.Background(), "stranger", &in.SnoozeRequest{MessageID: "m1", WakeUpTime: f.now.Add(time.Hour)})
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	assert.Empty(t, f.repo.rows)
}

func TestList_PaginatesAndDropsUnfetchable(t *testing.T) {
	f := newFixture()
	for i, id := range []string{"m1", "m2", "m3"} {
		f.repo.put(domain.SnoozeLog{
			ID: "s" + id, UserID: "u1", MessageID: id, Status: domain.SnoozeStatusActive,
			WakeUpTime: f.now.Add(time.Duration(i+1) * time.Hour),
		})
	}
	f.repo.put(domain.SnoozeLog{ID: "other", UserID: "u2", MessageID: "m1", Status: domain.SnoozeStatusActive, WakeUpTime: f.now})
	f.repo.put(domain.SnoozeLog{ID: "done", UserID: "u1", MessageID: "m4", Status: domain.SnoozeStatusProcessed, WakeUpTime: f.now})
	f.gmail.missing["m2"] = true

	page, err := f.svc.List(context.Background(), "u1", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Meta.Total)
	assert.Equal(t, 2, page.Meta.TotalPages)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "m1", page.Data[0].ID)
	assert.Equal(t, "sm1", page.Data[0].SnoozeInfo.SnoozeID)
	assert.True(t, page.Data[0].SnoozeInfo.WakeUpTime.Equal(f.now.Add(time.Hour)))

	page, err = f.svc.List(context.Background(), "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "m3", page.Data[0].ID)
}

func TestList_EmptyAndClamped(t *testing.T) {
	f := newFixture()

	page, err := f.svc.List(context.Background(), "u1", 0, 1000)
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Equal(t, 1, page.Meta.Page)
	assert.Equal(t, 100, page.Meta.Limit)
	assert.Zero(t, page.Meta.TotalPages)
}

func TestCancel(t *testing.T) {
	f := newFixture()
	f.repo.put(domain.SnoozeLog{
		ID: "s1", UserID: "u1", MessageID: "m1", Status: domain.SnoozeStatusActive,
		WakeUpTime: f.now.Add(time.Hour), SnoozedLabelID: "L_SNZ", RestoreLabelIDs: []string{"INBOX", "Label_7"},
	})
	f.repo.put(domain.SnoozeLog{ID: "s2", UserID: "u1", MessageID: "m2", Status: domain.SnoozeStatusProcessed})

	_, err := f.svc.Cancel(context.Background(), "u2", "s1")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound), "other users must not see the row")

	_, err = f.svc.Cancel(context.Background(), "u1", "missing")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, err = f.svc.Cancel(context.Background(), "u1", "s2")
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
	assert.Zero(t, f.gmail.callCount())

	log, err := f.svc.Cancel(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SnoozeStatusCancelled, log.Status)
	assert.Equal(t, domain.SnoozeStatusCancelled, f.repo.get("s1").Status)
	assert.True(t, f.gmail.inInbox("m1"))
	assert.Equal(t, []string{"INBOX", "Label_7"}, f.gmail.calls[0].add)
	assert.Equal(t, []string{"L_SNZ"}, f.gmail.calls[0].remove)

	_, err = f.svc.Cancel(context.Background(), "u1", "s1")
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
}

func TestCancel_RemoteFailureKeepsActive(t *testing.T) {
	f := newFixture()
	f.repo.put(domain.SnoozeLog{ID: "s1", UserID: "u1", MessageID: "m1", Status: domain.SnoozeStatusActive})
	f.gmail.fail["m1"] = errGmailDown

	_, err := f.svc.Cancel(context.Background(), "u1", "s1")
	require.Error(t, err)
	assert.Equal(t, domain.SnoozeStatusActive, f.repo.get("s1").Status)
}
