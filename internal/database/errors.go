package database

import "errors"

var (
	ErrNotFound = errors.New("record not found")

	// ErrTransactionClaimed means the store transaction was already applied to another user.
	ErrTransactionClaimed = errors.New("store transaction already claimed by another user")
)
