package domain

import (
	"fmt"
	"strings"
	"time"
)

// PriceFetchError reports that prices for one or more tickers could not be
// obtained from a broker. The affected tickers are preserved so that the
// planner can skip them and retry.
type PriceFetchError struct {
	Tickers []string
	Err     error
}

func (e *PriceFetchError) Error() string {
	return fmt.Sprintf("failed to fetch prices for [%s]: %v", strings.Join(e.Tickers, ", "), e.Err)
}

func (e *PriceFetchError) Unwrap() error { return e.Err }

// ConfigurationError reports bad or expired credentials or a missing
// endpoint. It is fatal to the adapter that raised it.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// OrderError reports that the broker rejected an order (insufficient funds,
// instrument not tradable, session expired).
type OrderError struct {
	Msg string
}

func (e *OrderError) Error() string { return e.Msg }

// ThrottledError reports a broker rate-limit response. RetryAfter carries the
// broker's hint when one was present, zero otherwise. Adapters handle this
// internally with sleep and retry; it is never surfaced to callers.
type ThrottledError struct {
	RetryAfter time.Duration
	Msg        string
}

func (e *ThrottledError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "throttled by broker"
}

// LoginStatus describes the outcome of an adapter authentication attempt.
type LoginStatus int

const (
	LoginSuccess LoginStatus = iota
	LoginMFARequired
	LoginChallengeRequired
)

// LoginResponse carries the data required to continue a broker
// authentication handshake out-of-band.
type LoginResponse struct {
	Status LoginStatus
	Data   map[string]string
}

// ExtraAuthenticationStepError is raised during adapter construction when
// the broker demands MFA or a challenge before a session can be established.
type ExtraAuthenticationStepError struct {
	Response LoginResponse
}

func (e *ExtraAuthenticationStepError) Error() string {
	return "broker requires an extra authentication step"
}
