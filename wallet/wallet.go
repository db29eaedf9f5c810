// Package wallet pages through an account's operation history and turns the
// raw operations into wallet transactions.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"snapfeed/hive"
	"snapfeed/models"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const DefaultPageLimit = 100

type HistorySource interface {
	GetAccountHistory(ctx context.Context, account string, start int64, limit int) ([]hive.HistoryEntry, error)
	GetDynamicGlobalProperties(ctx context.Context) (*hive.DynamicGlobalProperties, error)
}

type transferOp struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Memo   string `json:"memo"`
}

type withdrawVestingOp struct {
	Account       string `json:"account"`
	VestingShares string `json:"vesting_shares"`
}

type claimRewardOp struct {
	Account     string `json:"account"`
	RewardHive  string `json:"reward_hive"`
	RewardHbd   string `json:"reward_hbd"`
	RewardVests string `json:"reward_vests"`
}

// Page fetches one page of history ending at start (-1 for the latest
// operation) and returns the wallet transactions in it, newest first.
func Page(ctx context.Context, source HistorySource, account string, start int64, limit int) (*models.HistoryResponse, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if start >= 0 && int64(limit) > start+1 {
		limit = int(start + 1)
	}

	entries, err := source.GetAccountHistory(ctx, account, start, limit)
	if err != nil {
		return nil, fmt.Errorf("get account history for %s: %w", account, err)
	}

	c := &classifier{ctx: ctx, source: source}
	transactions := []models.Transaction{}
	oldestIndex := int64(-1)

	for _, entry := range entries {
		if oldestIndex == -1 || entry.Index < oldestIndex {
			oldestIndex = entry.Index
		}

		tx, ok, err := c.classify(entry)
		if err != nil {
			return nil, err
		}
		if ok {
			transactions = append(transactions, tx)
		}
	}

	log.WithFields(log.Fields{
		"account":      account,
		"start":        start,
		"operations":   len(entries),
		"transactions": len(transactions),
		"oldest_index": oldestIndex,
	}).Debug("Fetched history page")

	return &models.HistoryResponse{
		Transactions: lo.Reverse(transactions),
		OldestIndex:  oldestIndex,
		HasMore:      oldestIndex > 0,
	}, nil
}

// classifier loads the vesting ratio at most once per page
type classifier struct {
	ctx    context.Context
	source HistorySource
	props  *hive.DynamicGlobalProperties
}

func (c *classifier) vestsToHive(vests string) (float64, error) {
	amount, err := hive.ParseAmount(vests)
	if err != nil {
		return 0, err
	}
	if c.props == nil {
		props, err := c.source.GetDynamicGlobalProperties(c.ctx)
		if err != nil {
			return 0, fmt.Errorf("get dynamic global properties: %w", err)
		}
		c.props = props
	}
	return c.props.VestsToHive(amount)
}

func (c *classifier) classify(entry hive.HistoryEntry) (models.Transaction, bool, error) {
	tx := models.Transaction{
		Timestamp: entry.Timestamp.Time,
		TrxId:     entry.TrxId,
	}

	switch entry.OpType {
	case "transfer", "transfer_to_vesting", "transfer_to_savings", "transfer_from_savings":
		var op transferOp
		if err := json.Unmarshal(entry.OpData, &op); err != nil {
			return tx, false, fmt.Errorf("decode %s op %d: %w", entry.OpType, entry.Index, err)
		}
		tx.From, tx.To, tx.Amount, tx.Memo = op.From, op.To, op.Amount, op.Memo

		switch entry.OpType {
		case "transfer":
			tx.Type = models.TxTransfer
		case "transfer_to_vesting":
			tx.Type = models.TxPowerUp
			tx.Memo = "Power Up"
		case "transfer_to_savings":
			tx.Type = models.TxToSavings
			if tx.Memo == "" {
				tx.Memo = "Transfer to Savings"
			}
		case "transfer_from_savings":
			tx.Type = models.TxFromSavings
			if tx.Memo == "" {
				tx.Memo = "Withdraw from Savings"
			}
		}
		return tx, true, nil

	case "withdraw_vesting":
		var op withdrawVestingOp
		if err := json.Unmarshal(entry.OpData, &op); err != nil {
			return tx, false, fmt.Errorf("decode %s op %d: %w", entry.OpType, entry.Index, err)
		}
		amount, err := c.vestsToHive(op.VestingShares)
		if err != nil {
			return tx, false, err
		}
		tx.Type = models.TxPowerDown
		tx.From, tx.To = op.Account, op.Account
		tx.Amount = fmt.Sprintf("%.3f HIVE", amount)
		tx.Memo = "Power Down"
		return tx, true, nil

	case "claim_reward_balance":
		var op claimRewardOp
		if err := json.Unmarshal(entry.OpData, &op); err != nil {
			return tx, false, fmt.Errorf("decode %s op %d: %w", entry.OpType, entry.Index, err)
		}

		rewards := []string{}
		if isNonZero(op.RewardHive) {
			rewards = append(rewards, op.RewardHive)
		}
		if isNonZero(op.RewardHbd) {
			rewards = append(rewards, op.RewardHbd)
		}
		if isNonZero(op.RewardVests) {
			hp, err := c.vestsToHive(op.RewardVests)
			if err != nil {
				return tx, false, err
			}
			rewards = append(rewards, fmt.Sprintf("%.3f HP", hp))
		}
		if len(rewards) == 0 {
			return tx, false, nil
		}

		tx.Type = models.TxClaimRewards
		tx.From, tx.To = "rewards", op.Account
		tx.Amount = strings.Join(rewards, " + ")
		tx.Memo = "Claim Rewards"
		return tx, true, nil
	}

	return tx, false, nil
}

func isNonZero(asset string) bool {
	if asset == "" {
		return false
	}
	amount, err := hive.ParseAmount(asset)
	return err == nil && amount != 0
}

// History pages backwards through an account's history
type History struct {
	source  HistorySource
	account string
	limit   int
	next    int64
	done    bool
}

func NewHistory(source HistorySource, account string, limit int) *History {
	return &History{
		source:  source,
		account: account,
		limit:   limit,
		next:    -1,
	}
}

func (h *History) HasMore() bool {
	return !h.done
}

// Next returns the next older page. The position only advances on success.
func (h *History) Next(ctx context.Context) (*models.HistoryResponse, error) {
	if h.done {
		return &models.HistoryResponse{Transactions: []models.Transaction{}, OldestIndex: -1}, nil
	}

	page, err := Page(ctx, h.source, h.account, h.next, h.limit)
	if err != nil {
		return nil, err
	}

	if !page.HasMore {
		h.done = true
	} else {
		h.next = page.OldestIndex - 1
	}
	return page, nil
}
