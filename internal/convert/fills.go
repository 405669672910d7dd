package convert

import (
	"encoding/json"

	"github.com/avelinec/hlpipe/internal/domain"
)

// fillConverter handles the flat user/data-pair format. One raw line is a
// two-element JSON array [user_address, fill_data] and yields exactly one
// fill, carrying fee, PnL, and order/trade identifiers but no block
// metadata.
type fillConverter struct{}

func (fillConverter) Source() string { return domain.SourceNodeFills }

func (fillConverter) Convert(line []byte) ([]domain.NormalizedFill, error) {
	var rec domain.FillRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, malformed("fill record: %v", err)
	}
	fill, err := fillFromData(rec.User, rec.Data, domain.SourceNodeFills)
	if err != nil {
		return nil, err
	}
	return []domain.NormalizedFill{fill}, nil
}

// fillFromData builds a canonical fill from the shared flat payload. Both
// the flat and block-grouped formats use it; the caller stamps provenance.
func fillFromData(user string, data domain.FillData, source string) (domain.NormalizedFill, error) {
	if user == "" {
		return domain.NormalizedFill{}, malformed("%s: missing user address", source)
	}
	if data.Coin == "" || data.Px == "" || data.Sz == "" || data.Hash == "" {
		return domain.NormalizedFill{}, malformed("%s: missing core field", source)
	}
	if data.Time == 0 {
		return domain.NormalizedFill{}, malformed("%s: missing time", source)
	}
	return domain.NormalizedFill{
		Coin:          data.Coin,
		Px:            data.Px,
		Sz:            data.Sz,
		Side:          data.Side,
		Time:          data.Time,
		Hash:          data.Hash,
		UserAddress:   user,
		Oid:           data.Oid,
		Tid:           data.Tid,
		StartPosition: data.StartPosition,
		Direction:     data.Dir,
		ClosedPnl:     data.ClosedPnl,
		Crossed:       data.Crossed,
		Fee:           data.Fee,
		FeeToken:      data.FeeToken,
		Cloid:         data.Cloid,
		DatasetSource: source,
	}, nil
}
