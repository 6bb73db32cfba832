package store

import "errors"

var (
	ErrCategoryNotFound  = errors.New("category not found")
	ErrLocationNotFound  = errors.New("location not found")
	ErrDuplicateLocation = errors.New("location name already exists in this category and state")
	ErrEntryNotFound     = errors.New("queue entry not found")
)
