package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/safety"
	"github.com/askdb/askdb/internal/schema"
)

// User-facing sentinel strings produced inside the pipeline. The rejection
// text intentionally carries no detail about which gate tripped.
const (
	rejectionResultText = "Error: Query blocked for security reasons"
	emptySQLResultText  = "Error: No SQL query was generated."

	schemaFailureMarker = "Schema Fetch Failed"
)

const defaultMaxCorrectionAttempts = 2

// Options wires the collaborators of an Engine.
type Options struct {
	Schema                schema.Provider
	Generator             nl2sql.Generator
	Runner                query.Runner
	Classifier            *safety.Classifier
	SchemaName            string
	MaxCorrectionAttempts int
	Logger                *slog.Logger
}

// Engine drives a question through schema fetch, SQL generation, gated
// execution, bounded correction, and answer formatting. Run never returns
// a pipeline failure as an error; failures terminate in StepHandleError
// with an apologetic Answer.
type Engine struct {
	schema      schema.Provider
	generator   nl2sql.Generator
	runner      query.Runner
	classifier  *safety.Classifier
	schemaName  string
	maxAttempts int
	logger      *slog.Logger
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Schema == nil {
		return nil, fmt.Errorf("schema provider is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("query runner is required")
	}
	if opts.Classifier == nil {
		return nil, fmt.Errorf("safety classifier is required")
	}
	schemaName := strings.TrimSpace(opts.SchemaName)
	if schemaName == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	maxAttempts := opts.MaxCorrectionAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxCorrectionAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		schema:      opts.Schema,
		generator:   opts.Generator,
		runner:      opts.Runner,
		classifier:  opts.Classifier,
		schemaName:  schemaName,
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

// Run processes one question end to end. The returned error covers only
// invalid input; everything that goes wrong inside the pipeline surfaces
// through State.Answer and State.Step.
func (e *Engine) Run(ctx context.Context, question string) (State, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return State{}, fmt.Errorf("question must not be empty")
	}

	started := time.Now()
	st := State{Question: question, Step: StepStart}.withTrace(RoleUser, question)

	st = e.fetchSchema(ctx, st)
	if st.ErrorMessage == "" {
		st = e.generateSQL(ctx, st)
	}
	for st.ErrorMessage == "" {
		st = e.executeSQL(ctx, st)
		if !query.IsErrorString(st.ResultText) {
			st = e.formatAnswer(ctx, st)
			break
		}
		if st.Attempts >= e.maxAttempts {
			break
		}
		st = e.attemptCorrection(ctx, st)
	}
	if st.Step != StepFormatAnswer {
		st = e.handleError(st)
	}

	observability.ObserveQuestion(string(st.Step), time.Since(started))
	e.logger.Info("question processed",
		"step", string(st.Step),
		"attempts", st.Attempts,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return st, nil
}

func (e *Engine) fetchSchema(ctx context.Context, st State) State {
	st.Step = StepFetchSchema
	text, err := e.schema.Fetch(ctx)
	if err != nil {
		st.ErrorMessage = fmt.Sprintf("%s: %s", schemaFailureMarker, err.Error())
		return st
	}
	if query.IsErrorString(text) {
		st.ErrorMessage = fmt.Sprintf("%s: %s", schemaFailureMarker, text)
		return st
	}
	st.SchemaText = text
	return st
}

func (e *Engine) generateSQL(ctx context.Context, st State) State {
	st.Step = StepGenerateSQL
	sql, err := e.generator.GenerateSQL(ctx, st.SchemaText, st.Question, e.schemaName)
	if err != nil {
		st.ErrorMessage = fmt.Sprintf("SQL generation failed: %s", err.Error())
		return st
	}
	st.SQL = strings.TrimSpace(sql)
	return st.withTrace(RoleAssistant, "Generated SQL: "+st.SQL)
}

// executeSQL gates the candidate and runs it. Failures of any kind land in
// ResultText as an "Error: " sentinel so the correction loop can see them.
func (e *Engine) executeSQL(ctx context.Context, st State) State {
	st.Step = StepExecuteSQL
	st.Result = nil

	switch {
	case st.SQL == "":
		st.ResultText = emptySQLResultText
	case !e.classifier.IsSafe(st.SQL):
		st.ResultText = rejectionResultText
	default:
		outcome := e.runner.Run(ctx, st.SQL)
		if outcome.IsError() {
			st.ResultText = outcome.Err.Sentinel()
		} else {
			st.Result = outcome.Result
			st.ResultText = RenderResultText(*outcome.Result)
		}
	}
	return st.withTrace(RoleTool, st.ResultText)
}

func (e *Engine) attemptCorrection(ctx context.Context, st State) State {
	st.Step = StepAttemptCorrection
	corrected, err := e.generator.CorrectSQL(ctx, st.SchemaText, st.Question, st.SQL, st.ResultText)
	if err != nil {
		st.ErrorMessage = fmt.Sprintf("SQL correction failed: %s", err.Error())
		return st
	}
	observability.IncrementCorrectionAttempt()
	e.logger.Info("attempting SQL correction", "attempt", st.Attempts+1, "max_attempts", e.maxAttempts)

	st.Attempts++
	st.SQL = strings.TrimSpace(corrected)
	st.Result = nil
	st.ResultText = ""
	return st.withTrace(RoleAssistant, "Attempting corrected SQL: "+st.SQL)
}

func (e *Engine) formatAnswer(ctx context.Context, st State) State {
	answer, err := e.generator.FormatAnswer(ctx, st.Question, renderForPrompt(*st.Result))
	if err != nil {
		st.ErrorMessage = fmt.Sprintf("answer formatting failed: %s", err.Error())
		return st
	}
	st.Step = StepFormatAnswer
	st.Answer = answer
	return st.withTrace(RoleAssistant, answer)
}

// handleError turns a failed session into a final apology. The schema
// branch wins over everything else; exhausted corrections report the last
// database error verbatim.
func (e *Engine) handleError(st State) State {
	st.Step = StepHandleError
	switch {
	case strings.Contains(st.ErrorMessage, schemaFailureMarker):
		st.Answer = fmt.Sprintf(
			"Sorry, I could not process your request because I failed to retrieve the database schema information. Error: %s",
			st.ErrorMessage,
		)
	case st.Attempts >= e.maxAttempts && query.IsErrorString(st.ResultText):
		st.Answer = fmt.Sprintf(
			"Sorry, I could not generate a working SQL query for your request after %d attempts. Last error: %s",
			e.maxAttempts, st.ResultText,
		)
	default:
		message := st.ErrorMessage
		if message == "" {
			message = "An unknown error occurred."
		}
		st.Answer = fmt.Sprintf("Sorry, an unexpected error occurred: %s", message)
	}
	return st.withTrace(RoleAssistant, st.Answer)
}
