package identifiers

import "flowsentinel.dev/flowerr"

// ErrArgument is the sentinel every validation failure in this package wraps.
// Test against it with errors.Is(err, identifiers.ErrArgument).
var ErrArgument = flowerr.ErrArgument
