package capfile

import "errors"

// ErrMalformed reports a corrupt capture-file header or record. During a
// read it terminates the run cleanly, as if EOF had been reached; at
// setup it is fatal.
var ErrMalformed = errors.New("capfile: malformed record")

// ErrMagic reports an unrecognized global-header magic number.
var ErrMagic = errors.New("capfile: unknown magic")

// ErrNotMappable reports that the endpoint (a stream, not a regular file)
// cannot back the mapped I/O strategy and must be downgraded to
// scatter/gather.
var ErrNotMappable = errors.New("capfile: endpoint is not mappable")
