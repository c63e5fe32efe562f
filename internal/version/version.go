package version

// Name is the program name reported in logs and HTTP user agents.
const Name = "cln-scb-backup"

var (
	// Version is the semantic version (injected at build time).
	Version = "dev"
	// Commit is the git commit SHA (injected at build time).
	Commit = "unknown"
	// BuildDate is the build timestamp (injected at build time).
	BuildDate = "unknown"
)

// Info returns formatted version information.
func Info() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}

// UserAgent is sent by HTTP based destinations.
func UserAgent() string {
	return Name + "/" + Version
}
