package models

import "time"

// Container is a parent post under which snaps are published as replies
type Container struct {
	Author    string    `json:"author"`
	Permlink  string    `json:"permlink"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key identifies the container across authors
func (c Container) Key() string {
	return c.Author + "/" + c.Permlink
}

// Item is a single snap, i.e. a direct reply to a container
type Item struct {
	Author         string    `json:"author"`
	Permlink       string    `json:"permlink"`
	ParentAuthor   string    `json:"parentAuthor"`
	ParentPermlink string    `json:"parentPermlink"`
	Body           string    `json:"body"`
	JSONMetadata   string    `json:"jsonMetadata,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Children       int64     `json:"children"`
	NetVotes       int64     `json:"netVotes"`
}

// Key is the unique item key used for deduplication
func (i Item) Key() string {
	return "@" + i.Author + "/" + i.Permlink
}

// Cursor marks the last container processed by a pager
type Cursor struct {
	ContainerID string    `json:"containerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TagSet holds the tags found in an item's json metadata
type TagSet map[string]struct{}

func (t TagSet) Contains(tag string) bool {
	_, ok := t[tag]
	return ok
}

// Transaction is a wallet operation shown in an account's history
type Transaction struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"`
	Memo      string    `json:"memo"`
	Timestamp time.Time `json:"timestamp"`
	TrxId     string    `json:"trxId,omitempty"`
}

// Transaction types
const (
	TxTransfer     = "transfer"
	TxPowerUp      = "power_up"
	TxPowerDown    = "power_down"
	TxToSavings    = "to_savings"
	TxFromSavings  = "from_savings"
	TxClaimRewards = "claim_rewards"
)

type SnapsResponse struct {
	Session string  `json:"session"`
	Items   []Item  `json:"items"`
	HasMore bool    `json:"hasMore"`
	Cursor  *Cursor `json:"cursor,omitempty"`
}

type HistoryResponse struct {
	Transactions []Transaction `json:"transactions"`
	OldestIndex  int64         `json:"oldestIndex"`
	HasMore      bool          `json:"hasMore"`
}

// Omit all but the key fields
type ArchivedSnap struct {
	Id        int64     `json:"-"`
	Key       string    `json:"key"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type ArchiveResponse struct {
	Snaps  []ArchivedSnap `json:"snaps"`
	Cursor *string        `json:"cursor"`
}

type SnapsAggregatedByTime struct {
	Time  time.Time `json:"time"`
	Count int64     `json:"count"`
}

type Community struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	About string `json:"about"`
}
