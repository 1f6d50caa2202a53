package config

import "errors"

// ErrInvalid wraps every problem reported by Validate.
var ErrInvalid = errors.New("config: invalid configuration")
