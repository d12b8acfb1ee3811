package objstore

import "errors"

var (
	ErrNotFound      = errors.New("objstore: object not found")
	ErrAlreadyExists = errors.New("objstore: object already exists")
	ErrPrecondition  = errors.New("objstore: precondition failed")
)
