//go:build tools

package tools

// Pins the account-type code generator used to regenerate
// internal/driftidl from the program IDL.
import (
	_ "github.com/gagliardetto/anchor-go"
)
