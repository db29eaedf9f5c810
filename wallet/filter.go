package wallet

import (
	"snapfeed/models"

	"github.com/samber/lo"
)

// Filter toggles transaction categories on or off
type Filter struct {
	Incoming    bool
	Outgoing    bool
	Rewards     bool
	PowerUpDown bool
	Savings     bool
}

func AllTransactions() Filter {
	return Filter{
		Incoming:    true,
		Outgoing:    true,
		Rewards:     true,
		PowerUpDown: true,
		Savings:     true,
	}
}

// Keep reports whether tx passes the filter. Transfers are incoming or
// outgoing relative to account.
func (f Filter) Keep(account string, tx models.Transaction) bool {
	switch tx.Type {
	case models.TxTransfer:
		if tx.From == account {
			return f.Outgoing
		}
		return f.Incoming
	case models.TxClaimRewards:
		return f.Rewards
	case models.TxPowerUp, models.TxPowerDown:
		return f.PowerUpDown
	case models.TxToSavings, models.TxFromSavings:
		return f.Savings
	}
	return true
}

func (f Filter) Apply(account string, transactions []models.Transaction) []models.Transaction {
	return lo.Filter(transactions, func(tx models.Transaction, _ int) bool {
		return f.Keep(account, tx)
	})
}
