package convert

import (
	"encoding/json"
	"time"

	"github.com/avelinec/hlpipe/internal/domain"
)

// tradeConverter handles the counterparty-pair format. One raw record
// carries both parties of a trade and expands into exactly two fills, one
// per side_info entry. The format carries no fee, PnL, or block metadata;
// those fields stay nil.
type tradeConverter struct{}

func (tradeConverter) Source() string { return domain.SourceNodeTrades }

func (tradeConverter) Convert(line []byte) ([]domain.NormalizedFill, error) {
	var rec domain.TradeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, malformed("trade record: %v", err)
	}
	if rec.Coin == "" || rec.Px == "" || rec.Sz == "" || rec.Hash == "" {
		return nil, malformed("trade record: missing core field")
	}
	if len(rec.SideInfo) != 2 {
		return nil, malformed("trade record: expected 2 parties, got %d", len(rec.SideInfo))
	}

	ts, err := parseISOMillis(rec.Time)
	if err != nil {
		return nil, malformed("trade record: bad time %q: %v", rec.Time, err)
	}

	fills := make([]domain.NormalizedFill, 0, 2)
	for _, party := range rec.SideInfo {
		if party.User == "" {
			return nil, malformed("trade record: party missing user")
		}
		fills = append(fills, domain.NormalizedFill{
			Coin:          rec.Coin,
			Px:            rec.Px,
			Sz:            rec.Sz,
			Side:          rec.Side,
			Time:          ts,
			Hash:          rec.Hash,
			UserAddress:   party.User,
			Oid:           party.Oid,
			Cloid:         party.Cloid,
			StartPosition: party.StartPos,
			DatasetSource: domain.SourceNodeTrades,
		})
	}
	return fills, nil
}

// parseISOMillis converts an ISO 8601 timestamp to unix milliseconds.
// Timestamps without an explicit offset are taken as UTC, which is how the
// upstream logger writes them.
func parseISOMillis(s string) (int64, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
