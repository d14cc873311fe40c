package session

import "errors"

var (
	ErrNotConnected        = errors.New("no peer connected")
	ErrIndicationsDisabled = errors.New("indications not enabled")
	ErrNotBonded           = errors.New("peer not bonded")
)
