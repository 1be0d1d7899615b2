// Package txn assembles, signs, and dispatches versioned transactions with
// optional retry-until-confirmed semantics.
package txn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSlippageExceeded  = errors.New("slippage exceeded")
)

// OrderRejectedError carries the protocol error code an instruction failed
// with.
type OrderRejectedError struct {
	Code uint64
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected with protocol error code %d", e.Code)
}

// SimulationFailedError carries the raw program logs of a failed simulation
// or preflight.
type SimulationFailedError struct {
	Reason string
	Logs   []string
}

func (e *SimulationFailedError) Error() string {
	return fmt.Sprintf("simulation failed: %s", e.Reason)
}

// TransportError wraps an RPC transport failure. Transient; callers may
// retry.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifySimulation maps a simulation failure onto the protocol error
// taxonomy using the program logs.
func classifySimulation(reason string, logs []string) error {
	joined := strings.ToLower(reason + " " + strings.Join(logs, " "))
	switch {
	case strings.Contains(joined, "insufficient funds"),
		strings.Contains(joined, "insufficient lamports"),
		strings.Contains(joined, "insufficient collateral"):
		return ErrInsufficientFunds
	case strings.Contains(joined, "slippage"):
		return ErrSlippageExceeded
	}
	if code, ok := customErrorCode(reason, logs); ok {
		return &OrderRejectedError{Code: code}
	}
	return &SimulationFailedError{Reason: reason, Logs: logs}
}

// customErrorCode extracts an anchor "custom program error: 0x..." code.
func customErrorCode(reason string, logs []string) (uint64, bool) {
	const marker = "custom program error: "
	for _, line := range append([]string{reason}, logs...) {
		index := strings.Index(strings.ToLower(line), marker)
		if index < 0 {
			continue
		}
		raw := strings.TrimSpace(line[index+len(marker):])
		raw = strings.TrimSuffix(raw, ".")
		if end := strings.IndexAny(raw, " \t\""); end >= 0 {
			raw = raw[:end]
		}
		code, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 64)
		if err != nil {
			continue
		}
		return code, true
	}
	return 0, false
}
