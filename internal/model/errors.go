package model

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrDuplicateName    = errors.New("duplicate name")
	ErrSchedulerMisuse  = errors.New("scheduler misuse")
	ErrNotFound         = errors.New("not found")
)
