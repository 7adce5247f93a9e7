package observer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmint/planengine/testutil"
)

func TestHTTPObserver_Name(t *testing.T) {
	obs := NewHTTPObserver("http://example.com/webhook", 5*time.Second)
	assert.Equal(t, "http_callback", obs.Name())
}

func TestHTTPObserver_OnEvent_PostsJSONPayload(t *testing.T) {
	var received map[string]interface{}
	server := testutil.MockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	})

	obs := NewHTTPObserver(server.URL, 5*time.Second)
	err := obs.OnEvent(context.Background(), Event{Kind: KindPlanFinished, PlanID: "plan-123"})
	require.NoError(t, err)
	assert.Equal(t, "plan_finished", received["Kind"])
	assert.Equal(t, "plan-123", received["PlanID"])
}

func TestHTTPObserver_OnEvent_ErrorStatusReturnsError(t *testing.T) {
	server := testutil.MockErrorServer(t, http.StatusInternalServerError, "boom")

	obs := NewHTTPObserver(server.URL, 5*time.Second)
	err := obs.OnEvent(context.Background(), Event{Kind: KindPlanFailed, PlanID: "plan-456"})
	assert.Error(t, err)
}

func TestHTTPObserver_OnEvent_ContextCancellation(t *testing.T) {
	server := testutil.MockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	obs := NewHTTPObserver(server.URL, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := obs.OnEvent(ctx, Event{Kind: KindPlanFinished, PlanID: "plan-789"})
	assert.Error(t, err)
}
