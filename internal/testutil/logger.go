package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that discards all output. Same
// as log.NewNop(); this copy spares test-only packages the import.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
