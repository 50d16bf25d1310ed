package notify

// Subjects published by the collector.
// Follow the pattern: winlog.{resource}.{action}
const (
	SubjectSessionOpened     = "winlog.sessions.opened"     // Connect stored under a new session id
	SubjectSessionClosed     = "winlog.sessions.closed"     // Disconnect matched an open session
	SubjectSessionAutoClosed = "winlog.sessions.autoclosed" // Stale session closed by a newer connect
	SubjectSessionOrphaned   = "winlog.sessions.orphaned"   // Disconnect with no open session
	SubjectHardwareReported  = "winlog.hardware.reported"   // Hardware inventory received
)
