package team

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("team not found")
	ErrConflict     = errors.New("team already exists")
)
