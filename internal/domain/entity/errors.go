package entity

import "errors"

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrInvalidGoalID     = errors.New("invalid goal id")
	ErrGoalAlreadyExists = errors.New("goal already exists")
	ErrGoalNotFound      = errors.New("goal not found")
	ErrActionNotFound    = errors.New("action not found in session history")
)
