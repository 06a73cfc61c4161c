package client

import "errors"

var (
	// ErrEmptyTexts is returned before any RPC when the batch is empty.
	ErrEmptyTexts = errors.New("texts cannot be empty")

	// ErrEmptyPassages is returned before any RPC when there is nothing to
	// rerank.
	ErrEmptyPassages = errors.New("passages cannot be empty")
)
