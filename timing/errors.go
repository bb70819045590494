package timing

import "errors"

// ErrInvalidDelay is returned by Schedule for negative delays or nil
// callbacks.
var ErrInvalidDelay = errors.New("invalid delay")
