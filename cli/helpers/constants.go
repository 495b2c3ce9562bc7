package helpers

// ContextKey is a custom type for context keys to avoid string collisions
type ContextKey string

const (
	// ConfigKey is the context key for storing configuration
	ConfigKey ContextKey = "config"
)

// Persistent flags shared by every command.
const (
	FlagConfig    = "config"
	FlagEnvFile   = "env-file"
	FlagLogLevel  = "log-level"
	FlagLogJSON   = "log-json"
	FlagLogSource = "log-source"
	FlagIndex     = "index"
	FlagVectorDB  = "vector-db"
)

const (
	DefaultConfigFile = "policychat.yaml"
	DefaultEnvFile    = ".env"
)
