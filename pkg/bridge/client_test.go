package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/errdefs"
)

// bridgeStub answers /api/rpc with canned envelopes per method
func bridgeStub(t *testing.T, handler func(method string, params map[string]any) (any, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/rpc", r.URL.Path)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data, errMsg := handler(req.Method, req.Params)
		resp := map[string]any{"success": errMsg == ""}
		if errMsg != "" {
			resp["error"] = errMsg
		} else {
			resp["data"] = data
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestCallUnwrapsEnvelope(t *testing.T) {
	srv := bridgeStub(t, func(method string, params map[string]any) (any, string) {
		assert.Equal(t, "goto", method)
		assert.Equal(t, "p1", params["profile"])
		return map[string]any{"ok": true}, ""
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Goto(context.Background(), "p1", "https://www.xiaohongshu.com/")
	assert.NoError(t, err)
}

func TestCallSurfacesBridgeFailure(t *testing.T) {
	srv := bridgeStub(t, func(method string, params map[string]any) (any, string) {
		return nil, "page crashed"
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Call(context.Background(), "evaluate", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindOperationFailed))
	assert.Contains(t, err.Error(), "page crashed")
}

func TestCallUnreachableBridge(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Call(context.Background(), "evaluate", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindBridgeUnavailable))
}

func TestEvaluateRejectsUnserializableArgs(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	_, err := client.Evaluate(context.Background(), "p1", "() => 1", func() {})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindContextBadArg))
}

func TestEvaluateSerializedPerSession(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	srv := bridgeStub(t, func(method string, params map[string]any) (any, string) {
		cur := inFlight.Add(1)
		for {
			seen := maxInFlight.Load()
			if cur <= seen || maxInFlight.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "done", ""
	})
	defer srv.Close()

	client := NewClient(srv.URL)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := client.Evaluate(context.Background(), "same-profile", "() => 1")
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, int32(1), maxInFlight.Load(), "evaluate calls on one session must not overlap")
}

func TestSessionList(t *testing.T) {
	srv := bridgeStub(t, func(method string, params map[string]any) (any, string) {
		require.Equal(t, "session:list", method)
		return map[string]any{
			"sessions": []map[string]any{
				{"id": "s1", "profile": "p1", "site": "xiaohongshu", "url": "https://www.xiaohongshu.com/"},
				{"id": "s2", "profile": "p2", "site": "weibo", "url": "https://weibo.com/"},
			},
		}, ""
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	sessions, err := client.SessionList(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "p1", sessions[0].Profile)
	assert.Equal(t, "weibo", sessions[1].Site)
}
