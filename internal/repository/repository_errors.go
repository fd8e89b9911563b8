package repository

import "errors"

var ErrItemNotFound = errors.New("catalog item not found")
