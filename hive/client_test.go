package hive_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"snapfeed/hive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     int64           `json:"id"`
}

// rpcServer answers every call with the result produced by respond
func rpcServer(t *testing.T, respond func(call rpcCall) any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      call.ID,
			"result":  respond(call),
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCallFailsOverToNextNode(t *testing.T) {
	var brokenHits atomic.Int32
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		brokenHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	healthy := rpcServer(t, func(call rpcCall) any {
		return map[string]any{
			"total_vesting_fund_hive": "2000.000 HIVE",
			"total_vesting_shares":    "4000.000000 VESTS",
		}
	})

	client := hive.NewClient([]string{broken.URL, healthy.URL}, time.Second)

	props, err := client.GetDynamicGlobalProperties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2000.000 HIVE", props.TotalVestingFundHive)

	// The client stays on the healthy node
	_, err = client.GetDynamicGlobalProperties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), brokenHits.Load())
}

func TestCallAllNodesFail(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	client := hive.NewClient([]string{broken.URL, broken.URL}, time.Second)
	_, err := client.GetDynamicGlobalProperties(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all hive nodes failed")
}

func TestCallFailoverByStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		failsOver bool
	}{
		{name: "server error", status: http.StatusInternalServerError, failsOver: true},
		{name: "rate limited", status: http.StatusTooManyRequests, failsOver: true},
		{name: "bad request", status: http.StatusBadRequest, failsOver: false},
		{name: "not found", status: http.StatusNotFound, failsOver: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer first.Close()

			var secondHits atomic.Int32
			second := rpcServer(t, func(call rpcCall) any {
				secondHits.Add(1)
				return map[string]any{"total_vesting_fund_hive": "1.000 HIVE"}
			})

			client := hive.NewClient([]string{first.URL, second.URL}, time.Second)
			_, err := client.GetDynamicGlobalProperties(context.Background())

			if tt.failsOver {
				require.NoError(t, err)
				assert.Equal(t, int32(1), secondHits.Load())
				return
			}
			var statusErr *hive.StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, int32(0), secondHits.Load())
		})
	}
}

func TestCallReturnsRPCErrorWithoutFailover(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32602, "message": "Invalid parameters"},
		})
	}))
	defer server.Close()

	client := hive.NewClient([]string{server.URL, server.URL}, time.Second)
	_, err := client.GetContentReplies(context.Background(), "peak.snaps", "missing")

	var rpcErr *hive.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, int32(1), hits.Load())
}

func TestListContainersBefore(t *testing.T) {
	var params []any
	server := rpcServer(t, func(call rpcCall) any {
		assert.Equal(t, "condenser_api.get_discussions_by_author_before_date", call.Method)
		assert.NoError(t, json.Unmarshal(call.Params, &params))
		return []map[string]any{
			{"author": "peak.snaps", "permlink": "snaps-2", "created": "2024-05-02T10:00:00"},
			{"author": "peak.snaps", "permlink": "snaps-1", "created": "2024-05-01T10:00:00"},
		}
	})

	client := hive.NewClient([]string{server.URL}, time.Second)
	before := time.Date(2024, 5, 3, 8, 30, 0, 0, time.UTC)
	containers, err := client.ListContainersBefore(context.Background(), "peak.snaps", "", before, 10)
	require.NoError(t, err)

	assert.Equal(t, []any{"peak.snaps", "", "2024-05-03T08:30:00", float64(10)}, params)
	require.Len(t, containers, 2)
	assert.Equal(t, "snaps-2", containers[0].Permlink)
	assert.Equal(t, time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), containers[0].CreatedAt)
}

func TestListChildItems(t *testing.T) {
	server := rpcServer(t, func(call rpcCall) any {
		assert.Equal(t, "condenser_api.get_content_replies", call.Method)
		return []map[string]any{{
			"author":          "alice",
			"permlink":        "re-snaps-1",
			"parent_author":   "peak.snaps",
			"parent_permlink": "snaps-1",
			"body":            "hello",
			"json_metadata":   `{"tags":["hive-173115"]}`,
			"created":         "2024-05-01T10:05:00",
			"children":        2,
			"net_votes":       7,
		}}
	})

	client := hive.NewClient([]string{server.URL}, time.Second)
	items, err := client.ListChildItems(context.Background(), "peak.snaps", "snaps-1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "@alice/re-snaps-1", item.Key())
	assert.Equal(t, "snaps-1", item.ParentPermlink)
	assert.Equal(t, `{"tags":["hive-173115"]}`, item.JSONMetadata)
	assert.Equal(t, int64(2), item.Children)
	assert.Equal(t, int64(7), item.NetVotes)
}

func TestListFollowingDropsEchoedStart(t *testing.T) {
	var requestedLimit float64
	server := rpcServer(t, func(call rpcCall) any {
		var params []any
		assert.NoError(t, json.Unmarshal(call.Params, &params))
		start := params[1].(string)
		requestedLimit = params[3].(float64)

		all := []string{"alice", "bob", "carol", "dave"}
		entries := []map[string]any{}
		for _, name := range all {
			if name >= start && len(entries) < int(requestedLimit) {
				entries = append(entries, map[string]any{"follower": "viewer", "following": name, "what": []string{"blog"}})
			}
		}
		return entries
	})

	client := hive.NewClient([]string{server.URL}, time.Second)

	names, err := client.ListFollowing(context.Background(), "viewer", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
	assert.Equal(t, float64(2), requestedLimit)

	names, err = client.ListFollowing(context.Background(), "viewer", "bob", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, names)
	assert.Equal(t, float64(3), requestedLimit)
}

func TestListFollowingFullPageAfterStart(t *testing.T) {
	var requestedLimit float64
	server := rpcServer(t, func(call rpcCall) any {
		var params []any
		assert.NoError(t, json.Unmarshal(call.Params, &params))
		requestedLimit = params[3].(float64)
		return []map[string]any{}
	})

	client := hive.NewClient([]string{server.URL}, time.Second)

	_, err := client.ListFollowing(context.Background(), "viewer", "", 1000)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), requestedLimit)

	_, err = client.ListFollowing(context.Background(), "viewer", "bob", 1000)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), requestedLimit, "never above the node maximum")
}

func TestGetAccountHistory(t *testing.T) {
	var params []any
	server := rpcServer(t, func(call rpcCall) any {
		assert.NoError(t, json.Unmarshal(call.Params, &params))
		return []any{
			[]any{int64(4), map[string]any{
				"trx_id":    "abc",
				"block":     100,
				"timestamp": "2024-05-01T10:00:00",
				"op":        []any{"transfer", map[string]any{"from": "alice", "to": "bob", "amount": "1.000 HIVE", "memo": "hi"}},
			}},
		}
	})

	client := hive.NewClient([]string{server.URL}, time.Second)

	entries, err := client.GetAccountHistory(context.Background(), "alice", 4, 100)
	require.NoError(t, err)
	assert.Equal(t, float64(5), params[2], "limit is clamped to start+1")

	require.Len(t, entries, 1)
	assert.Equal(t, int64(4), entries[0].Index)
	assert.Equal(t, "abc", entries[0].TrxId)
	assert.Equal(t, "transfer", entries[0].OpType)
	assert.JSONEq(t, `{"from":"alice","to":"bob","amount":"1.000 HIVE","memo":"hi"}`, string(entries[0].OpData))

	_, err = client.GetAccountHistory(context.Background(), "alice", -1, 100)
	require.NoError(t, err)
	assert.Equal(t, float64(100), params[2])
}

func TestHistoryEntryRejectsMalformedTuples(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "single element", raw: `[1]`},
		{name: "op without data", raw: `[1, {"trx_id":"a","timestamp":"2024-05-01T10:00:00","op":["transfer"]}]`},
		{name: "not an array", raw: `{"index":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entry hive.HistoryEntry
			assert.Error(t, json.Unmarshal([]byte(tt.raw), &entry))
		})
	}
}

func TestGetCommunity(t *testing.T) {
	server := rpcServer(t, func(call rpcCall) any {
		assert.Equal(t, "bridge.get_community", call.Method)
		assert.JSONEq(t, `{"name":"hive-173115"}`, string(call.Params))
		return map[string]any{"name": "hive-173115", "title": "Snaps", "about": "Short posts"}
	})

	client := hive.NewClient([]string{server.URL}, time.Second)
	community, err := client.GetCommunity(context.Background(), "hive-173115")
	require.NoError(t, err)
	assert.Equal(t, "Snaps", community.Title)
}

func TestVestsToHive(t *testing.T) {
	props := &hive.DynamicGlobalProperties{
		TotalVestingFundHive: "2000.000 HIVE",
		TotalVestingShares:   "4000.000000 VESTS",
	}
	hivePower, err := props.VestsToHive(10)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, hivePower, 0.0001)

	_, err = (&hive.DynamicGlobalProperties{}).VestsToHive(10)
	assert.Error(t, err)
}
