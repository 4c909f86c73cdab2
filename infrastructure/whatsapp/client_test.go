package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	return NewClient(ClientConfig{
		APIVersion:    "v20.0",
		BaseURL:       serverURL,
		Timeout:       2 * time.Second,
		RatePerSecond: 1000,
		RateBurst:     1000,
	})
}

func TestSendTextReturnsProviderMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v20.0/106540352242922/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok-abc", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "text", payload["type"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.sent1"}},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	creds := Credentials{PhoneNumberID: "106540352242922", AccessToken: "tok-abc"}

	res, err := client.SendText(context.Background(), creds, "+51999000001", "Hola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.sent1", res.ProviderMessageID)
}

func TestSendRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.retry"}},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	creds := Credentials{PhoneNumberID: "p1", AccessToken: "t"}

	res, err := client.SendText(context.Background(), creds, "+51999000001", "Hola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.retry", res.ProviderMessageID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendDoesNotRetryAuthErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","code":190}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.SendText(context.Background(), Credentials{PhoneNumberID: "p1", AccessToken: "bad"}, "+51999000001", "Hola")
	require.Error(t, err)

	var authErr pkgError.AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "los 4xx de auth no se reintentan")
}

func TestSendMapsRateLimitWithRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.after429"}},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	start := time.Now()
	res, err := client.SendText(context.Background(), Credentials{PhoneNumberID: "p1", AccessToken: "t"}, "+51999000001", "Hola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.after429", res.ProviderMessageID)
	// respeta Retry-After en lugar del backoff base
	assert.GreaterOrEqual(t, time.Since(start), 1*time.Second)
}

func TestSendMapsInvalidPhoneID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Unsupported request","code":100}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.SendText(context.Background(), Credentials{PhoneNumberID: "nope", AccessToken: "t"}, "+51999000001", "Hola")
	require.Error(t, err)

	var nf pkgError.NotFoundError
	assert.True(t, errors.As(err, &nf))
}
