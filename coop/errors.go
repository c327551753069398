package coop

import "errors"

var (
	ErrInvalidNotification = errors.New("coop: invalid notification")
	ErrInvalidTopic        = errors.New("coop: invalid topic")
	ErrInvalidBaseURL      = errors.New("coop: invalid base url")
	ErrReactionSync        = errors.New("coop: reaction could not be synchronized")
	ErrNetworkTimeout      = errors.New("coop: network timeout")
	ErrNotFound            = errors.New("coop: not found")
	ErrRateLimited         = errors.New("coop: rate limited")
)
