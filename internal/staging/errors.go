package staging

import "errors"

// errCorruptTail signals a truncated or checksum-mismatched block at the
// current read offset; the caller truncates the file there.
var errCorruptTail = errors.New("staging: corrupt block")
