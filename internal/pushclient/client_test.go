package pushclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var in struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in.Token == "dead" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"registration-token-not-registered"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", false, time.Second)
	res, err := c.SendOne(context.Background(), "live", Message{Title: "t", Body: "b"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.SendOne(context.Background(), "dead", Message{Title: "t"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Invalid())
}

func TestSendBatchChunksAndReportsInvalid(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var in struct {
			Tokens []string `json:"tokens"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.LessOrEqual(t, len(in.Tokens), MaxBatch)
		results := make([]Result, 0, len(in.Tokens))
		for _, tok := range in.Tokens {
			if strings.HasPrefix(tok, "bad") {
				results = append(results, Result{Token: tok, Error: CodeInvalidToken})
				continue
			}
			results = append(results, Result{Token: tok, Success: true})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	tokens := make([]string, 0, 1002)
	for i := 0; i < 1000; i++ {
		tokens = append(tokens, fmt.Sprintf("tok-%d", i))
	}
	tokens = append(tokens, "bad-1", "bad-2")

	c := New(srv.URL, "", false, time.Second)
	res, err := c.SendBatch(context.Background(), tokens, Message{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1000, res.Success)
	assert.Equal(t, 2, res.Failure)
	assert.Equal(t, []string{"bad-1", "bad-2"}, res.InvalidTokens())
}

func TestSkipMode(t *testing.T) {
	c := New("http://127.0.0.1:1", "", true, time.Second)
	res, err := c.SendBatch(context.Background(), []string{"a", "b"}, Message{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	require.NoError(t, c.Health(context.Background()))
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "", false, time.Second)
	for i := 0; i < 5; i++ {
		_, err := c.SendOne(context.Background(), "tok", Message{})
		require.Error(t, err)
	}
	_, err := c.SendOne(context.Background(), "tok", Message{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), calls.Load(), "open breaker short-circuits")
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid-argument"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", false, time.Second)
	for i := 0; i < 10; i++ {
		res, err := c.SendOne(context.Background(), "tok", Message{})
		require.NoError(t, err)
		assert.True(t, res.Invalid())
	}
}
