package domain

import "errors"

var (
	ErrItemNotFound     = errors.New("item not found")
	ErrInvalidItem      = errors.New("invalid item")
	ErrDuplicateLink    = errors.New("item with this link already exists")
	ErrMalformedFeed    = errors.New("malformed feed")
	ErrInvalidEnvelope  = errors.New("invalid bus envelope")
	ErrBusUnavailable   = errors.New("bus unavailable")
	ErrConnectionClosed = errors.New("connection closed")
)
