package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderPostsGraphAPIMessage(t *testing.T) {
	var got outboundMessage
	var gotAuth, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out.1"}]}`))
	}))
	defer srv.Close()

	s := NewSender(SenderConfig{
		AccessToken:   "token-123",
		PhoneNumberID: "phone-1",
		APIVersion:    "v21.0",
		BaseURL:       srv.URL,
	}, nil)

	receipt, err := s.Send(context.Background(), "15550001111", "See you Tuesday!")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out.1", receipt.MessageID)

	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "/v21.0/phone-1/messages", gotPath)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "15550001111", got.To)
	assert.Equal(t, "See you Tuesday!", got.Text.Body)
	assert.False(t, got.Text.PreviewURL)
}

func TestSenderErrorsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSender(SenderConfig{BaseURL: srv.URL, PhoneNumberID: "p"}, nil)
	_, err := s.Send(context.Background(), "1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
