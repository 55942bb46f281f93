package usecase

import "errors"

// ErrEnqueue indicates the message could not be handed off to the queue.
var ErrEnqueue = errors.New("chat use case: enqueue failed")
