package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"triage_server/core/port/out"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func TestWrapError(t *testing.T) {
	a := NewGmailAdapter()
	tests := []struct {
		status int
		msg    string
		want   out.ProviderErrorCode
	}{
		{400, "bad", out.ProviderErrInvalidInput},
		{401, "invalid credentials", out.ProviderErrTokenExpired},
		{403, "User Rate Limit Exceeded", out.ProviderErrRateLimit},
		{403, "forbidden", out.ProviderErrAuth},
		{404, "gone", out.ProviderErrNotFound},
		{409, "Label name exists or conflicts", out.ProviderErrConflict},
		{429, "slow down", out.ProviderErrRateLimit},
		{503, "unavailable", out.ProviderErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := a.wrapError(&googleapi.Error{Code: tt.status, Message: tt.msg}, "x")
			assert.True(t, out.IsProviderError(err, tt.want), "got %v", err)
		})
	}

	err := a.wrapError(errors.New("dial tcp: timeout"), "failed to list")
	assert.True(t, out.IsProviderError(err, out.ProviderErrServer))
}

func TestBuildRawMessage(t *testing.T) {
	raw, err := buildRawMessage(&out.ProviderOutgoingMessage{
		To:         "bob@example.com",
		Subject:    "Re: 회의",
		HTMLBody:   "<p>" + strings.Repeat("hello ", 30) + "</p>",
		InReplyTo:  "<abc@mail>",
		References: "<root@mail> <abc@mail>",
	})
	require.NoError(t, err)

	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, head, "To: bob@example.com\r\n")
	assert.Contains(t, head, "Subject: =?UTF-8?b?")
	assert.Contains(t, head, "In-Reply-To: <abc@mail>\r\n")
	assert.Contains(t, head, "References: <root@mail> <abc@mail>\r\n")
	assert.Contains(t, head, "Content-Transfer-Encoding: base64")

	for _, line := range strings.Split(strings.TrimSpace(body), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(strings.TrimSpace(body), "\r\n", ""))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(decoded), "<p>hello"))
}

func TestBuildRawMessage_RejectsHeaderLineBreaks(t *testing.T) {
	tests := []struct {
		name string
		msg  out.ProviderOutgoingMessage
	}{
		{"to", out.ProviderOutgoingMessage{To: "bob@example.com\r\nBcc: spy@evil.example"}},
		{"bare lf", out.ProviderOutgoingMessage{To: "bob@example.com\nBcc: spy@evil.example"}},
		{"in-reply-to", out.ProviderOutgoingMessage{To: "bob@example.com", InReplyTo: "<a@mail>\r\nBcc: spy@evil.example"}},
		{"references", out.ProviderOutgoingMessage{To: "bob@example.com", References: "<a@mail>\r\nContent-Type: text/plain"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := buildRawMessage(&tt.msg)
			assert.Error(t, err)
			assert.Empty(t, raw)
		})
	}

	raw, err := buildRawMessage(&out.ProviderOutgoingMessage{To: "bob@example.com", Subject: "hi\r\nBcc: spy@evil.example"})
	require.NoError(t, err)
	head, _, _ := strings.Cut(raw, "\r\n\r\n")
	assert.NotContains(t, head, "\r\nBcc:")
}

func TestConvertMessage(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		InternalDate: 1714564800000,
		LabelIds:     []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Quarterly report"},
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "Message-Id", Value: "<id@mail>"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: enc("plain body")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<b>html body</b>")}},
				{
					MimeType: "application/pdf",
					Filename: "report.pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att1", Size: 1024},
				},
			},
		},
	}

	got := convertMessage(msg)
	assert.Equal(t, "Quarterly report", got.Subject)
	assert.Equal(t, "<id@mail>", got.MessageID)
	assert.Equal(t, "plain body", got.TextBody)
	assert.Equal(t, "<b>html body</b>", got.HTMLBody)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "att1", got.Attachments[0].ID)
	assert.Equal(t, int64(1714564800), got.InternalAt.Unix())
}

func newTestAdapter(t *testing.T, h http.HandlerFunc) *GmailAdapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGmailAdapter(option.WithEndpoint(srv.URL + "/"))
}

func TestGmailAdapter_UsesStaticToken(t *testing.T) {
	var auth string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","labelIds":["INBOX"]}`))
	})

	token := &oauth2.Token{AccessToken: "access-1", TokenType: "Bearer"}
	err := a.ModifyLabels(context.Background(), token, "m1", []string{"INBOX"}, []string{"Label_1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer access-1", auth)
}

func TestGmailAdapter_CreateLabelConflict(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":409,"message":"Label name exists or conflicts"}}`))
	})

	_, err := a.CreateLabel(context.Background(), &oauth2.Token{AccessToken: "a"}, "Snoozed")
	assert.True(t, out.IsProviderError(err, out.ProviderErrConflict), "got %v", err)
	assert.False(t, a.IsCircuitOpen())
}

func TestGmailAdapter_MissingToken(t *testing.T) {
	_, err := NewGmailAdapter().ListLabels(context.Background(), nil)
	assert.True(t, out.IsProviderError(err, out.ProviderErrAuth))
}
