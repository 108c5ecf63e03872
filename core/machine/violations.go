package machine

import (
	"errors"
	"fmt"

	"channeld/core/types"
	"channeld/core/validation"
)

// violation converts a validation failure into the payload of a violation
// event.
func violation(sender types.Address, err error) types.Violation {
	var verr *validation.ValidationError
	if errors.As(err, &verr) {
		return types.Violation{Sender: sender, Code: string(verr.Code), Reason: verr.Reason}
	}
	return types.Violation{Sender: sender, Code: "invalid", Reason: err.Error()}
}

func rejected(sender types.Address, code validation.Code, format string, args ...any) types.Violation {
	return types.Violation{Sender: sender, Code: string(code), Reason: fmt.Sprintf(format, args...)}
}
