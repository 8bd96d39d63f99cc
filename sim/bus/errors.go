package bus

import "errors"

var (
	// ErrFederationExists means another participant created the federation first.
	// Callers proceed as joiners.
	ErrFederationExists   = errors.New("federation already exists")
	ErrFederationNotFound = errors.New("federation does not exist")
	ErrFederatesJoined    = errors.New("federates still joined")
	ErrNotJoined          = errors.New("participant is not joined")
	ErrNameInUse          = errors.New("participant name already in use")
	ErrNotOwner           = errors.New("object is owned by another participant")
	ErrUnknownObject      = errors.New("unknown object instance")
	ErrAdvancePending     = errors.New("time advance already pending")
	ErrTimeRegression     = errors.New("requested time is not after current time")
	ErrUnknownSyncPoint   = errors.New("unknown synchronization point")
)

// errorCodes maps sentinels to stable strings so they survive a network hop.
var errorCodes = map[error]string{
	ErrFederationExists:   "federation_exists",
	ErrFederationNotFound: "federation_not_found",
	ErrFederatesJoined:    "federates_joined",
	ErrNotJoined:          "not_joined",
	ErrNameInUse:          "name_in_use",
	ErrNotOwner:           "not_owner",
	ErrUnknownObject:      "unknown_object",
	ErrAdvancePending:     "advance_pending",
	ErrTimeRegression:     "time_regression",
	ErrUnknownSyncPoint:   "unknown_sync_point",
}

// ErrorCode returns the wire code of the first sentinel err wraps, or "" if none.
func ErrorCode(err error) string {
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// ErrorFromCode returns the sentinel for a wire code, or nil if the code is unknown.
func ErrorFromCode(code string) error {
	for sentinel, c := range errorCodes {
		if c == code {
			return sentinel
		}
	}
	return nil
}
