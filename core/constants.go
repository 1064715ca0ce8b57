package core

import (
	"errors"
	"time"
)

// Engine defaults
const (
	DefaultReadBufferSize = 16 * 1024
	DefaultIdleTimeout    = 60 * time.Second
	DefaultMaxConnections = 100000

	// pollTimeout bounds how long the loop sleeps before checking for shutdown
	pollTimeout = 100 // ms
	maxEvents   = 1024
)

// Error definitions
var (
	ErrEngineClosed      = errors.New("engine closed")
	ErrUnknownConnection = errors.New("connection not registered with engine")
)
