package hive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"snapfeed/models"
)

// TimeLayout is the timestamp format used by the Hive API, always UTC
const TimeLayout = "2006-01-02T15:04:05"

// Time decodes Hive timestamps
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.ParseInLocation(TimeLayout, raw, time.UTC)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("parse hive time %q: %w", raw, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// FormatTime formats a time.Time into the format expected by the Hive API
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Discussion is a post or comment as returned by condenser_api
type Discussion struct {
	Author         string `json:"author"`
	Permlink       string `json:"permlink"`
	ParentAuthor   string `json:"parent_author"`
	ParentPermlink string `json:"parent_permlink"`
	Category       string `json:"category"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	JSONMetadata   string `json:"json_metadata"`
	Created        Time   `json:"created"`
	Children       int64  `json:"children"`
	NetVotes       int64  `json:"net_votes"`
}

func (d Discussion) Container() models.Container {
	return models.Container{
		Author:    d.Author,
		Permlink:  d.Permlink,
		CreatedAt: d.Created.Time,
	}
}

func (d Discussion) Item() models.Item {
	return models.Item{
		Author:         d.Author,
		Permlink:       d.Permlink,
		ParentAuthor:   d.ParentAuthor,
		ParentPermlink: d.ParentPermlink,
		Body:           d.Body,
		JSONMetadata:   d.JSONMetadata,
		CreatedAt:      d.Created.Time,
		Children:       d.Children,
		NetVotes:       d.NetVotes,
	}
}

type FollowEntry struct {
	Follower  string   `json:"follower"`
	Following string   `json:"following"`
	What      []string `json:"what"`
}

// HistoryEntry is one operation of an account history.
// The API encodes it as [index, {trx_id, block, timestamp, op: [type, data]}].
type HistoryEntry struct {
	Index     int64
	TrxId     string
	Block     int64
	Timestamp Time
	OpType    string
	OpData    json.RawMessage
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("history entry has %d elements, want 2", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &h.Index); err != nil {
		return fmt.Errorf("history index: %w", err)
	}

	var body struct {
		TrxId     string            `json:"trx_id"`
		Block     int64             `json:"block"`
		Timestamp Time              `json:"timestamp"`
		Op        []json.RawMessage `json:"op"`
	}
	if err := json.Unmarshal(tuple[1], &body); err != nil {
		return fmt.Errorf("history body: %w", err)
	}
	if len(body.Op) != 2 {
		return fmt.Errorf("history op has %d elements, want 2", len(body.Op))
	}
	if err := json.Unmarshal(body.Op[0], &h.OpType); err != nil {
		return fmt.Errorf("history op type: %w", err)
	}

	h.TrxId = body.TrxId
	h.Block = body.Block
	h.Timestamp = body.Timestamp
	h.OpData = body.Op[1]
	return nil
}

type DynamicGlobalProperties struct {
	HeadBlockNumber      int64  `json:"head_block_number"`
	TotalVestingFundHive string `json:"total_vesting_fund_hive"`
	TotalVestingShares   string `json:"total_vesting_shares"`
}

// VestsToHive converts an amount of VESTS to HIVE at the current ratio
func (p *DynamicGlobalProperties) VestsToHive(vests float64) (float64, error) {
	fund, err := ParseAmount(p.TotalVestingFundHive)
	if err != nil {
		return 0, err
	}
	shares, err := ParseAmount(p.TotalVestingShares)
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, fmt.Errorf("total vesting shares is zero")
	}
	return fund * vests / shares, nil
}

// ParseAmount parses the numeric part of an asset string like "1.000 HIVE"
func ParseAmount(asset string) (float64, error) {
	fields := strings.Fields(asset)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty amount")
	}
	amount, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", asset, err)
	}
	return amount, nil
}
