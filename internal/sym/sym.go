// Package sym holds short subsystem tags. Call sites attach one to a
// structured log line as a field key with the value true (for example
// `sym.DB, true`), so a line can be grep'd or queried by subsystem
// regardless of its message text.
package sym

const (
	DB           = "db"
	Engine       = "engine"
	Parser       = "parser"
	StateMachine = "state_machine"
	Hub          = "hub"
	HTTP         = "http"
	WS           = "ws"
	Orchestrator = "orchestrator"
	Config       = "config"
	Metrics      = "metrics"
)
