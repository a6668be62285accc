package bedrock

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

const throttlingCode = "ThrottlingException"

// ThrottlingError reports that Bedrock rejected a call for exceeding its rate.
type ThrottlingError struct {
	Op  string
	Err error
}

func (e *ThrottlingError) Error() string {
	return fmt.Sprintf("bedrock: %s throttled: %v", e.Op, e.Err)
}

func (e *ThrottlingError) Unwrap() error {
	return e.Err
}

// Throttled always reports true; callers detect throttling through this method
// without importing the SDK error types.
func (e *ThrottlingError) Throttled() bool {
	return true
}

func isThrottling(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == throttlingCode
}
