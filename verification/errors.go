package verification

import "errors"

var (
	ErrProfileExists      = errors.New("voter profile already exists")
	ErrVoterIDTaken       = errors.New("voter id already registered")
	ErrProfileRequired    = errors.New("voter profile required")
	ErrProfileNotFound    = errors.New("voter profile not found")
	ErrInvalidProfile     = errors.New("invalid voter profile")
	ErrNotEligible        = errors.New("voter is not eligible")
	ErrNoSession          = errors.New("no active verification session")
	ErrUnknownStep        = errors.New("invalid verification step")
	ErrOutOfSequence      = errors.New("invalid verification sequence")
	ErrBiometricRequired  = errors.New("biometric type and data are required")
	ErrBiometricMismatch  = errors.New("biometric verification failed")
	ErrOTPFormat          = errors.New("invalid OTP format")
	ErrOTPMismatch        = errors.New("invalid OTP")
	ErrOTPExpired         = errors.New("OTP expired")
	ErrOTPNotVerified     = errors.New("OTP verification pending")
	ErrReadyNotInProgress = errors.New("ready step is not in progress")
)
