package engine

// Request is the resolved, already-validated execution-request payload
// (spec §9's explicit config schema): what POST /api/executions accepts,
// translated from its JSON body by internal/httpapi.
type Request struct {
	Name             string
	Command          string
	Shell            bool
	WorkingDirectory string
	Environment      map[string]string
	User             string
	Tags             []string
	Metadata         map[string]any
	TimeoutSeconds   int
}
