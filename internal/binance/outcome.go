package binance

import (
	"errors"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// Outcome classifies the result of an idempotent account-setting call.
type Outcome int

const (
	// OutcomeApplied means the exchange accepted and applied the change.
	OutcomeApplied Outcome = iota
	// OutcomeAlreadySet means the exchange rejected the call only because the
	// requested setting was already in effect.
	OutcomeAlreadySet
)

func (o Outcome) String() string {
	if o == OutcomeAlreadySet {
		return "already-set"
	}
	return "applied"
}

// Error codes Binance futures returns for no-op account changes.
const (
	codeNoNeedChangePositionSide = -4059
	codeNoNeedChangeMarginType   = -4046
)

// classify turns "no need to change" rejections into OutcomeAlreadySet so
// callers never have to pattern-match error strings.
func classify(err error) (Outcome, error) {
	if err == nil {
		return OutcomeApplied, nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeNoNeedChangePositionSide, codeNoNeedChangeMarginType:
			return OutcomeAlreadySet, nil
		}
		if strings.Contains(apiErr.Message, "No need to change") {
			return OutcomeAlreadySet, nil
		}
	}
	return OutcomeApplied, err
}
