package mqtt

import "errors"

// Errors returned by Client. Failures from the broker are wrapped, so
// compare with errors.Is.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: not connected")

	// ErrInvalidTopic covers empty topics and wildcards in publish topics.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
	ErrInvalidQoS   = errors.New("mqtt: QoS must be 0, 1 or 2")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
)
