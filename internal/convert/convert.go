// Package convert maps raw exchange records of each source format into
// canonical normalized fills. Converters are pure: one raw line in, zero or
// more fills out, no side effects. A malformed line yields an error wrapping
// domain.ErrMalformedRecord; callers count and drop it without aborting the
// batch.
package convert

import (
	"fmt"

	"github.com/avelinec/hlpipe/internal/domain"
)

// Converter turns one raw line of a specific source format into canonical
// fills.
type Converter interface {
	// Source returns the source identifier this converter handles.
	Source() string

	// Convert parses one raw line and returns the canonical fills it
	// expands to. Errors wrap domain.ErrMalformedRecord for structural
	// problems with the record itself.
	Convert(line []byte) ([]domain.NormalizedFill, error)
}

// ForSource returns the converter for the given source identifier. Selection
// is by identifier only; record shape is never sniffed.
func ForSource(name string) (Converter, error) {
	switch name {
	case domain.SourceNodeTrades:
		return tradeConverter{}, nil
	case domain.SourceNodeFills:
		return fillConverter{}, nil
	case domain.SourceNodeFillsByBlock:
		return blockFillConverter{}, nil
	default:
		return nil, fmt.Errorf("convert: unknown source %q", name)
	}
}

// malformed wraps a structural parse problem so callers can errors.Is it.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedRecord, fmt.Sprintf(format, args...))
}
