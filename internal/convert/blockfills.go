package convert

import (
	"encoding/json"

	"github.com/avelinec/hlpipe/internal/domain"
)

// blockFillConverter handles the block-grouped format. One raw record is a
// block; each embedded [user, data] event becomes one fill stamped with the
// block's number, block time, and local-processing time, plus the per-event
// builder fields.
type blockFillConverter struct{}

func (blockFillConverter) Source() string { return domain.SourceNodeFillsByBlock }

func (blockFillConverter) Convert(line []byte) ([]domain.NormalizedFill, error) {
	var rec domain.BlockFillRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, malformed("block record: %v", err)
	}

	fills := make([]domain.NormalizedFill, 0, len(rec.Events))
	for _, ev := range rec.Events {
		fill, err := fillFromData(ev.User, ev.Data, domain.SourceNodeFillsByBlock)
		if err != nil {
			return nil, err
		}
		fill.BlockNumber = rec.BlockNumber
		fill.BlockTime = rec.BlockTime
		fill.Builder = ev.Data.Builder
		fill.BuilderFee = ev.Data.BuilderFee
		fill.LocalTime = rec.LocalTime
		fills = append(fills, fill)
	}
	return fills, nil
}
