package service

import "errors"

// ErrInvalidArgument covers malformed identifiers and page parameters. It is
// raised before any store access so a failed validation never opens a
// transaction.
var ErrInvalidArgument = errors.New("invalid argument")
