package collection

// Target is a resolved collection binding: which collection an ingestion
// or query call operates on. Resolved exactly once at the entry point
// (ingester / query engine boundary) and passed down explicitly, so
// ingestion-time and query-time resolution can never diverge.
type Target struct {
	// Name is the resolved collection name.
	Name string

	// SessionID is the owning session, empty for the global collection.
	SessionID string
}

// Global reports whether the target is the default/global collection.
func (t Target) Global() bool {
	return t.SessionID == ""
}

// Naming derives collection names. The zero value is unusable; build it
// from configuration via NewNaming.
type Naming struct {
	global        string
	sessionPrefix string
}

// Default naming configuration. The session prefix keeps session
// collections namespaced away from any conceivable global name.
const (
	DefaultGlobalCollection = "study_notes"
	DefaultSessionPrefix    = "session-scoped:"
)

// NewNaming creates a Naming from configuration, falling back to
// defaults for empty values.
func NewNaming(global, sessionPrefix string) Naming {
	if global == "" {
		global = DefaultGlobalCollection
	}
	if sessionPrefix == "" {
		sessionPrefix = DefaultSessionPrefix
	}
	return Naming{global: global, sessionPrefix: sessionPrefix}
}

// Resolve maps an optional session id to its target collection.
// An empty session id targets the global collection — callers that never
// pass a session identifier see the pre-session-scoping behavior
// unchanged.
func (n Naming) Resolve(sessionID string) Target {
	if sessionID == "" {
		return Target{Name: n.global}
	}
	return Target{Name: n.sessionPrefix + sessionID, SessionID: sessionID}
}

// Global returns the target for the default/global collection.
func (n Naming) Global() Target {
	return Target{Name: n.global}
}
