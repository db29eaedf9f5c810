package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	rpcCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapfeed_hive_rpc_calls_total",
		Help: "The total number of Hive RPC calls sent to a node",
	}, []string{"method"})

	rpcErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapfeed_hive_rpc_errors_total",
		Help: "The total number of failed Hive RPC calls",
	}, []string{"method", "kind"})

	rpcLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snapfeed_hive_rpc_latency_seconds",
		Help:    "Latency of Hive RPC calls",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // Start at 10ms, double each bucket, 10 buckets
	}, []string{"method"})

	nodeSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapfeed_hive_node_switches_total",
		Help: "Number of times the client switched to a different node",
	}, []string{"from_node", "to_node"})
)

const DefaultTimeout = 30 * time.Second

// DefaultNodes are public Hive API nodes tried in order
var DefaultNodes = []string{"https://api.hive.blog", "https://api.deathwing.me"}

// RPCError is an error object returned by a Hive node
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("hive rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     int64           `json:"id"`
}

// StatusError is an unexpected HTTP status from a node
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("node error (status %d): %s", e.StatusCode, e.Body)
}

// nodeFault reports whether another node may answer where this one did not
func (e *StatusError) nodeFault() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client is a JSON-RPC client for the Hive API. Calls fail over to the next
// node on transport errors, 5xx and 429 responses, each node is tried at most
// once per call.
type Client struct {
	nodes      []string
	httpClient *http.Client

	mu      sync.Mutex
	current int
	ids     atomic.Int64
}

func NewClient(nodes []string, timeout time.Duration) *Client {
	if len(nodes) == 0 {
		nodes = DefaultNodes
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		nodes: nodes,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Call invokes method with params and decodes the result into result
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.ids.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < len(c.nodes); attempt++ {
		node := c.node()

		rpcCalls.WithLabelValues(method).Inc()
		start := time.Now()
		resp, err := c.post(ctx, node, payload)
		rpcLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())

		if err == nil {
			if resp.Error != nil {
				rpcErrors.WithLabelValues(method, "rpc").Inc()
				return resp.Error
			}
			if result != nil {
				if err := json.Unmarshal(resp.Result, result); err != nil {
					rpcErrors.WithLabelValues(method, "decode").Inc()
					return fmt.Errorf("decode %s result: %w", method, err)
				}
			}
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.nodeFault() {
			rpcErrors.WithLabelValues(method, "status").Inc()
			return fmt.Errorf("%s rejected by %s: %w", method, node, err)
		}

		rpcErrors.WithLabelValues(method, "transport").Inc()
		log.WithFields(log.Fields{
			"node":   node,
			"method": method,
			"error":  err,
		}).Warn("Hive node request failed")

		lastErr = err
		c.switchNode(node)
	}

	return fmt.Errorf("all hive nodes failed for %s: %w", method, lastErr)
}

func (c *Client) node() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[c.current]
}

// switchNode moves to the next node unless another call already did
func (c *Client) switchNode(failed string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[c.current] != failed || len(c.nodes) == 1 {
		return
	}
	next := (c.current + 1) % len(c.nodes)
	nodeSwitches.WithLabelValues(failed, c.nodes[next]).Inc()
	log.Infof("Switching from node %s to %s", failed, c.nodes[next])
	c.current = next
}

func (c *Client) post(ctx context.Context, node string, payload []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &rpcResp, nil
}
