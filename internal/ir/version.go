package ir

// Version constants for the wire protocol and binary.
const (
	// ProtocolVersion is the envelope schema version.
	ProtocolVersion = "1"

	// Version is the tandem release version.
	Version = "0.1.0"
)
