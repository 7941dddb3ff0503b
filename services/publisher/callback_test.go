package publisher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallbackSenderSignsBody(t *testing.T) {
	body := []byte(`{"job_id":"j1","success":true}`)
	secret := "topsecret"

	received := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, body, got)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		// Signature is over the exact body bytes
		assert.Equal(t, Sign(secret, body), r.Header.Get(SignatureHeader))
		received <- struct{}{}
	}))
	defer server.Close()

	sender := NewCallbackSender(5 * time.Second)
	assert.NoError(t, sender.Send(context.Background(), server.URL, secret, body))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Error("callback never arrived")
	}
}

func TestCallbackSenderNoSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
	}))
	defer server.Close()

	sender := NewCallbackSender(time.Second)
	assert.NoError(t, sender.Send(context.Background(), server.URL, "", []byte("{}")))
}

func TestCallbackSenderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewCallbackSender(time.Second)
	err := sender.Send(context.Background(), server.URL, "s", []byte("{}"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSignDeterministic(t *testing.T) {
	a := Sign("k", []byte("payload"))
	b := Sign("k", []byte("payload"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Sign("other", []byte("payload")))
}
