package history

import "errors"

var (
	ErrUnknownKind    = errors.New("unknown entity kind")
	ErrEntityDeleted  = errors.New("entity already deleted")
	ErrInvalidDiff    = errors.New("invalid diff input")
	ErrCommentTooLong = errors.New("comment too long")
	ErrMalformedEntry = errors.New("malformed history entry")
)
