package models

import "time"

// Token is the relational copy of one token and its breeding status.
type Token struct {
	ID            uint64    `gorm:"column:token_id;primaryKey;autoIncrement:false"`
	Owner         string    `gorm:"column:owner;type:varchar(64);index;not null"`
	Genes         string    `gorm:"column:genes;type:varchar(66);not null"`
	BirthTime     int64     `gorm:"column:birth_time;not null"`
	NextActionAt  int64     `gorm:"column:next_action_at;not null"`
	MatronID      uint64    `gorm:"column:matron_id;index"`
	SireID        uint64    `gorm:"column:sire_id;index"`
	SiringWithID  uint64    `gorm:"column:siring_with_id"`
	CooldownIndex uint16    `gorm:"column:cooldown_index"`
	Generation    uint32    `gorm:"column:generation;index"`
	IsGestating   bool      `gorm:"column:is_gestating;default:false"`
	Height        int64     `gorm:"column:height;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Listing is an active auction. Rows disappear when the auction settles or
// is cancelled.
type Listing struct {
	Auction    string `gorm:"column:auction;primaryKey;type:varchar(10)"`
	TokenID    uint64 `gorm:"column:token_id;primaryKey;autoIncrement:false"`
	Seller     string `gorm:"column:seller;type:varchar(64);index;not null"`
	StartPrice string `gorm:"column:start_price;type:numeric(20,0);not null"`
	EndPrice   string `gorm:"column:end_price;type:numeric(20,0);not null"`
	Duration   int64  `gorm:"column:duration;not null"`
	StartedAt  int64  `gorm:"column:started_at;not null"`
	Height     int64  `gorm:"column:height;not null"`
}

// Account is a pooled balance, in wei.
type Account struct {
	Address   string    `gorm:"column:address;primaryKey;type:varchar(64)"`
	Balance   string    `gorm:"column:balance;type:numeric(20,0);not null"`
	Height    int64     `gorm:"column:height;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Roles is a single row holding the current role assignment.
type Roles struct {
	ID                 uint   `gorm:"column:id;primaryKey"`
	CEO                string `gorm:"column:ceo;type:varchar(64)"`
	CFO                string `gorm:"column:cfo;type:varchar(64)"`
	COO                string `gorm:"column:coo;type:varchar(64)"`
	Paused             bool   `gorm:"column:paused"`
	NewContractAddress string `gorm:"column:new_contract_address;type:varchar(64)"`
	Height             int64  `gorm:"column:height;not null"`
}

// Transaction records every tx included in a block, failed ones as well.
type Transaction struct {
	TxHash    string    `gorm:"column:tx_hash;primaryKey;type:varchar(64)"`
	Height    int64     `gorm:"column:height;index;not null"`
	Index     int       `gorm:"column:tx_index;not null"`
	Sender    string    `gorm:"column:sender;type:varchar(64);index"`
	Op        string    `gorm:"column:op;type:varchar(50);index"`
	Value     string    `gorm:"column:value;type:numeric(20,0);not null"`
	Code      uint32    `gorm:"column:code;not null"`
	Log       string    `gorm:"column:log;type:text"`
	Timestamp time.Time `gorm:"column:timestamp;not null"`
}
