package domain

import (
	"encoding/json"
	"fmt"
)

// The three raw record variants form a sealed set. The orchestrator selects
// the converter from the source name in the catalog; nothing in the pipeline
// inspects record shape to decide the format.

// TradeRecord is the counterparty-pair format. One record carries both sides
// of a trade in SideInfo and expands into two fills.
type TradeRecord struct {
	Coin     string      `json:"coin"`
	Side     string      `json:"side"`
	Time     string      `json:"time"` // ISO 8601
	Px       string      `json:"px"`
	Sz       string      `json:"sz"`
	Hash     string      `json:"hash"`
	SideInfo []TradeSide `json:"side_info"`
}

// TradeSide is one counterparty of a TradeRecord.
type TradeSide struct {
	User     string  `json:"user"`
	StartPos *string `json:"start_pos"`
	Oid      *int64  `json:"oid"`
	Cloid    *string `json:"cloid"`
}

// FillData is the flat per-fill payload shared by the node_fills and
// node_fills_by_block formats.
type FillData struct {
	Coin          string  `json:"coin"`
	Px            string  `json:"px"`
	Sz            string  `json:"sz"`
	Side          string  `json:"side"`
	Time          int64   `json:"time"`
	Hash          string  `json:"hash"`
	Oid           *int64  `json:"oid"`
	Tid           *int64  `json:"tid"`
	StartPosition *string `json:"startPosition"`
	Dir           *string `json:"dir"`
	ClosedPnl     *string `json:"closedPnl"`
	Crossed       *bool   `json:"crossed"`
	Fee           *string `json:"fee"`
	FeeToken      *string `json:"feeToken"`
	Cloid         *string `json:"cloid"`
	Builder       *string `json:"builder"`
	BuilderFee    *string `json:"builderFee"`
}

// FillRecord is the flat user/data-pair format. On the wire it is a
// two-element JSON array: [user_address, fill_data].
type FillRecord struct {
	User string
	Data FillData
}

// UnmarshalJSON decodes the [user, data] array shape.
func (r *FillRecord) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("fill record: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.User); err != nil {
		return fmt.Errorf("fill record user: %w", err)
	}
	if err := json.Unmarshal(pair[1], &r.Data); err != nil {
		return fmt.Errorf("fill record data: %w", err)
	}
	return nil
}

// BlockFillRecord is the block-grouped format: one record per block, with an
// embedded [user, data] event per fill plus block-level metadata stamped on
// every expanded fill.
type BlockFillRecord struct {
	BlockNumber *int64       `json:"block_number"`
	BlockTime   *string      `json:"block_time"`
	LocalTime   *string      `json:"local_time"`
	Events      []FillRecord `json:"events"`
}
