package ring

import "errors"

// ErrConfig reports an unsupported ring configuration, fatal at setup,
// before anything is mapped.
var ErrConfig = errors.New("ring: unsupported configuration")

// ErrNoDevice reports a missing or down interface.
var ErrNoDevice = errors.New("ring: interface not available")
