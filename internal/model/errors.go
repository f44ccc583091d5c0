package model

import "errors"

var (
	// ErrThreadNotFound is returned when a thread is not in the catalog.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrAssistantNotFound is returned when an assistant is not in the catalog.
	ErrAssistantNotFound = errors.New("assistant not found")

	// ErrAlreadyExists is returned when a catalog id is inserted twice.
	ErrAlreadyExists = errors.New("already exists")

	// ErrIDRequired is returned when a catalog entry has an empty id.
	ErrIDRequired = errors.New("id is required")
)
