/*
	Error categories and exit codes shared by every hit component.

	All errors raised by hit packages are `errcat.Error` values carrying one of
	the categories below; the CLI maps them back onto exit codes.
*/
package hit

import (
	"github.com/warpfork/go-errcat"
)

type ErrorCategory string

type ExitCode int

const (
	ExitSuccess = ExitCode(0)

	ExitUsage, ErrUsage                               = ExitCode(1), ErrorCategory("hit-usage-error")           // Indicates some piece of user input to a command was invalid and unrunnable.
	ExitStoreUnavailable, ErrStoreUnavailable         = ExitCode(3), ErrorCategory("hit-store-unavailable")     // The content store could not be reached.
	ExitStoreUnwritable, ErrStoreUnwritable           = ExitCode(4), ErrorCategory("hit-store-unwritable")      // The content store rejected a write.
	ExitNotFound, ErrNotFound                         = ExitCode(5), ErrorCategory("hit-not-found")             // A path, ref, pull request or member does not exist.
	ExitRefDiscovery, ErrRefDiscovery                 = ExitCode(6), ErrorCategory("hit-ref-discovery-error")   // The store failed while enumerating refs.
	ExitMalformedRef, ErrMalformedRef                 = ExitCode(7), ErrorCategory("hit-malformed-ref")         // A ref file held neither an object id nor a symbolic target.
	ExitChainTransport, ErrChainTransport             = ExitCode(8), ErrorCategory("hit-chain-transport-error") // The chain gateway could not be reached or answered garbage.
	ExitApplicationRejection, ErrApplicationRejection = ExitCode(9), ErrorCategory("hit-application-rejection") // The contract answered with "ERROR:".
	ExitPartialCommit, ErrPartialCommit               = ExitCode(10), ErrorCategory("hit-partial-commit")       // The ledger accepted a change but persisting the metadata record failed.
	ExitUnauthorized, ErrUnauthorized                 = ExitCode(1), ErrorCategory("hit-unauthorized")          // The active account may not perform the operation.  Shares the usage exit code.
	ExitCrypto, ErrCrypto                             = ExitCode(12), ErrorCategory("hit-crypto-error")         // Key generation, wrapping, sealing or decryption failed.
	ExitCancelled, ErrCancelled                       = ExitCode(13), ErrorCategory("hit-cancelled")            // A context was cancelled part-way through.
	ExitMergeFailed, ErrMergeFailed                   = ExitCode(14), ErrorCategory("hit-merge-failed")         // Applying a pull request to the working tree failed.
	ExitTODO                                          = ExitCode(254)
	ExitPanic                                         = ExitCode(255)
)

var exitCodes = map[ErrorCategory]ExitCode{
	ErrUsage:                ExitUsage,
	ErrStoreUnavailable:     ExitStoreUnavailable,
	ErrStoreUnwritable:      ExitStoreUnwritable,
	ErrNotFound:             ExitNotFound,
	ErrRefDiscovery:         ExitRefDiscovery,
	ErrMalformedRef:         ExitMalformedRef,
	ErrChainTransport:       ExitChainTransport,
	ErrApplicationRejection: ExitApplicationRejection,
	ErrPartialCommit:        ExitPartialCommit,
	ErrUnauthorized:         ExitUnauthorized,
	ErrCrypto:               ExitCrypto,
	ErrCancelled:            ExitCancelled,
	ErrMergeFailed:          ExitMergeFailed,
}

/*
	Return the exit code matching the category of the error.

	Nil errors are success.  Errors with no category, or a category that is
	not one of ours, get ExitTODO so they stand out.
*/
func ExitCodeForError(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	category, ok := errcat.Category(err).(ErrorCategory)
	if !ok {
		return ExitTODO
	}
	return ExitCodeForCategory(category)
}

func ExitCodeForCategory(category ErrorCategory) ExitCode {
	if code, ok := exitCodes[category]; ok {
		return code
	}
	return ExitTODO
}
