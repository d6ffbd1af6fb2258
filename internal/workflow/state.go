package workflow

import "github.com/askdb/askdb/internal/query"

// Step identifies a state-machine node. The terminal step of a finished
// State is always StepFormatAnswer or StepHandleError.
type Step string

const (
	StepStart             Step = "start"
	StepFetchSchema       Step = "fetch_schema"
	StepGenerateSQL       Step = "generate_sql"
	StepExecuteSQL        Step = "execute_sql"
	StepAttemptCorrection Step = "attempt_correction"
	StepFormatAnswer      Step = "format_answer"
	StepHandleError       Step = "handle_error"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the append-only audit trace of a session.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is the session record threaded through the state machine. Nodes
// never mutate a State in place; each transition returns a new value, and
// the trace is copied on append.
type State struct {
	Question     string        `json:"question"`
	SchemaText   string        `json:"schema_text"`
	SQL          string        `json:"sql"`
	Result       *query.Result `json:"result,omitempty"`
	ResultText   string        `json:"result_text"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Attempts     int           `json:"attempts"`
	Trace        []Message     `json:"trace"`
	Step         Step          `json:"step"`
	Answer       string        `json:"answer"`
}

func (s State) withTrace(role, content string) State {
	trace := make([]Message, len(s.Trace), len(s.Trace)+1)
	copy(trace, s.Trace)
	s.Trace = append(trace, Message{Role: role, Content: content})
	return s
}
