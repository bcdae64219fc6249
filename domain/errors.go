package domain

import "errors"

// Classification errors returned while decoding relay payloads.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedMessage   = errors.New("malformed message")
)
