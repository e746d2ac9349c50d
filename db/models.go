package db

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gomidenbridge/types"
)

// Amount is an arbitrary-precision token amount.
// Stored as numeric on postgres and as text on sqlite, where numeric affinity
// would turn values above int64 into floats.
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

func (Amount) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "numeric"
	}
	return "text"
}

// Exit is the canonical record of one bridged transfer observed on a source chain.
// Rows are append-only: created by a poller, never updated or deleted.
type Exit struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	From        types.ChainRef `gorm:"embedded;embeddedPrefix:from_" json:"from"`
	To          types.ChainRef `gorm:"embedded;embeddedPrefix:to_" json:"to"`
	AssetOrigin types.ChainRef `gorm:"embedded;embeddedPrefix:asset_origin_" json:"assetOrigin"`

	AssetAddress  string  `gorm:"column:asset_address;not null" json:"assetAddress"`
	AssetAmount   Amount  `gorm:"column:amount;not null" json:"assetAmount"`
	Sender        *string `gorm:"column:sender" json:"sender,omitempty"`
	Receiver      *string `gorm:"column:receiver" json:"receiver,omitempty"`
	AssetName     *string `gorm:"column:asset_metadata_name" json:"assetName,omitempty"`
	AssetSymbol   *string `gorm:"column:asset_metadata_symbol" json:"assetSymbol,omitempty"`
	AssetDecimals *uint8  `gorm:"column:asset_metadata_decimals" json:"assetDecimals,omitempty"`
	Calldata      []byte  `gorm:"column:calldata" json:"calldata,omitempty"`
	CallAddress   *string `gorm:"column:call_address" json:"callAddress,omitempty"`
	TxID          *string `gorm:"column:transaction_id" json:"txId,omitempty"`
	BlockNumber   uint64  `gorm:"column:block_number;not null" json:"blockNumber"`
}

// Fulfill marks an exit as relayed. The unique index on exit_id turns a
// duplicate relay into a write error.
type Fulfill struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	ExitID uint64 `gorm:"column:exit_id;uniqueIndex;not null"`
	Exit   *Exit  `gorm:"foreignKey:ExitID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
}

// ScanRecord is one committed scan window for a chain.
type ScanRecord struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	Chain      types.ChainRef `gorm:"embedded;embeddedPrefix:chain_"`
	StartBlock uint64         `gorm:"column:start_block;not null"`
	EndBlock   uint64         `gorm:"column:end_block;not null;index"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
}

func (ScanRecord) TableName() string {
	return "chain_scans"
}

// StrPtr is a small helper for the optional text columns.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
