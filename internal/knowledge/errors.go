package knowledge

import "errors"

// ErrNotFound reports a missing account, channel or message.
var ErrNotFound = errors.New("not found")
