// Package attestation abstracts the TEE quote backend as two asynchronous
// operations: producing a quote over caller-supplied report data, and
// verifying a remote quote against the report data it should bind.
//
// The real attestation backend is an external collaborator, referenced
// only by this interface; Stub below is a permissive dev-mode realization
// for use where no production quote backend is wired in, and a production
// Port implementation is left to the enclosing process.
package attestation

import (
	"context"
	"encoding/hex"
)

// Quote is an opaque, textual attestation artifact binding a TEE
// measurement to caller-supplied report data.
type Quote string

// Verification is the result of checking a quote against expected report
// data.
type Verification struct {
	Valid bool
}

// Port is the two-operation capability the connection manager depends on.
type Port interface {
	GetQuote(ctx context.Context, reportData []byte) (Quote, error)
	VerifyQuote(ctx context.Context, quote Quote, expectedReportData []byte) (Verification, error)
}

// Stub is the permissive dev-mode Port: GetQuote hex-encodes the report
// data as its own "quote", and VerifyQuote always reports valid. Useful
// for running the overlay without a real TEE backend attached.
type Stub struct{}

// GetQuote hex-encodes reportData and returns it as the quote body.
func (Stub) GetQuote(_ context.Context, reportData []byte) (Quote, error) {
	return Quote(hex.EncodeToString(reportData)), nil
}

// VerifyQuote always reports the quote as valid.
func (Stub) VerifyQuote(_ context.Context, _ Quote, _ []byte) (Verification, error) {
	return Verification{Valid: true}, nil
}

// Fixed is a test double that always returns a configured verdict,
// regardless of the quote or report data supplied. Used to drive the
// quote-rejection scenario: a peer whose quote never verifies.
type Fixed struct {
	Verdict Verification
	Err     error
}

// GetQuote hex-encodes reportData, same as Stub.
func (f Fixed) GetQuote(_ context.Context, reportData []byte) (Quote, error) {
	return Quote(hex.EncodeToString(reportData)), nil
}

// VerifyQuote returns the configured verdict.
func (f Fixed) VerifyQuote(_ context.Context, _ Quote, _ []byte) (Verification, error) {
	return f.Verdict, f.Err
}
