package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/safety"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptProvider struct {
	text string
	err  error
}

func (p scriptProvider) Fetch(_ context.Context) (string, error) {
	return p.text, p.err
}

type scriptGenerator struct {
	generated    string
	generateErr  error
	corrections  []string
	correctErr   error
	correctCalls int
	lastDBError  string
	answer       string
	answerErr    error
}

func (g *scriptGenerator) GenerateSQL(_ context.Context, _, _, _ string) (string, error) {
	return g.generated, g.generateErr
}

func (g *scriptGenerator) CorrectSQL(_ context.Context, _, _, _, dbError string) (string, error) {
	g.lastDBError = dbError
	if g.correctErr != nil {
		return "", g.correctErr
	}
	index := g.correctCalls
	g.correctCalls++
	if index >= len(g.corrections) {
		index = len(g.corrections) - 1
	}
	return g.corrections[index], nil
}

func (g *scriptGenerator) FormatAnswer(_ context.Context, _, _ string) (string, error) {
	return g.answer, g.answerErr
}

type scriptRunner struct {
	outcomes []query.Outcome
	sqls     []string
}

func (r *scriptRunner) Run(_ context.Context, sql string, _ ...any) query.Outcome {
	r.sqls = append(r.sqls, sql)
	index := len(r.sqls) - 1
	if index >= len(r.outcomes) {
		index = len(r.outcomes) - 1
	}
	return r.outcomes[index]
}

func newTestEngine(t *testing.T, generator *scriptGenerator, runner *scriptRunner, provider scriptProvider) *Engine {
	t.Helper()
	classifier, err := safety.NewClassifier("info", discardLogger())
	if err != nil {
		t.Fatalf("NewClassifier() error = %v", err)
	}
	engine, err := NewEngine(Options{
		Schema:                provider,
		Generator:             generator,
		Runner:                runner,
		Classifier:            classifier,
		SchemaName:            "info",
		MaxCorrectionAttempts: 2,
		Logger:                discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func customersResult() query.Outcome {
	return query.Success(query.Result{
		Columns: []string{"name"},
		Rows:    [][]any{{"Alice"}, {"Bob"}},
	})
}

func TestRunHappyPath(t *testing.T) {
	generator := &scriptGenerator{
		generated: "SELECT name FROM info.customers ORDER BY name",
		answer:    "The customers are Alice and Bob.",
	}
	runner := &scriptRunner{outcomes: []query.Outcome{customersResult()}}
	engine := newTestEngine(t, generator, runner, scriptProvider{text: "CREATE TABLE info.customers ();"})

	st, err := engine.Run(context.Background(), "Who are the customers?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Step != StepFormatAnswer {
		t.Fatalf("Step = %q, want %q", st.Step, StepFormatAnswer)
	}
	if st.Answer != generator.answer {
		t.Fatalf("Answer = %q", st.Answer)
	}
	if st.Attempts != 0 {
		t.Fatalf("Attempts = %d, want 0", st.Attempts)
	}
	if st.Result == nil || len(st.Result.Rows) != 2 {
		t.Fatalf("Result = %+v", st.Result)
	}
	if len(runner.sqls) != 1 {
		t.Fatalf("runner calls = %d, want 1", len(runner.sqls))
	}
	if len(st.Trace) == 0 || st.Trace[0].Role != RoleUser {
		t.Fatalf("trace does not start with the user question: %+v", st.Trace)
	}
}

func TestRunRecoversAfterOneCorrection(t *testing.T) {
	generator := &scriptGenerator{
		generated:   "SELECT nmae FROM info.customers",
		corrections: []string{"SELECT name FROM info.customers"},
		answer:      "The customers are Alice and Bob.",
	}
	runner := &scriptRunner{outcomes: []query.Outcome{
		query.Failure(query.KindExecution, `column "nmae" does not exist`),
		customersResult(),
	}}
	engine := newTestEngine(t, generator, runner, scriptProvider{text: "schema"})

	st, err := engine.Run(context.Background(), "Who are the customers?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Step != StepFormatAnswer {
		t.Fatalf("Step = %q, want %q", st.Step, StepFormatAnswer)
	}
	if st.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", st.Attempts)
	}
	if len(runner.sqls) != 2 {
		t.Fatalf("runner calls = %d, want 2", len(runner.sqls))
	}
	if runner.sqls[1] != "SELECT name FROM info.customers" {
		t.Fatalf("second execution ran %q", runner.sqls[1])
	}
	if !strings.Contains(generator.lastDBError, `column "nmae" does not exist`) {
		t.Fatalf("correction prompt missing database error: %q", generator.lastDBError)
	}
}

func TestRunStopsAfterMaxCorrectionAttempts(t *testing.T) {
	generator := &scriptGenerator{
		generated:   "SELECT nmae FROM info.customers",
		corrections: []string{"SELECT nmae FROM info.customers"},
	}
	runner := &scriptRunner{outcomes: []query.Outcome{
		query.Failure(query.KindExecution, `column "nmae" does not exist`),
	}}
	engine := newTestEngine(t, generator, runner, scriptProvider{text: "schema"})

	st, err := engine.Run(context.Background(), "Who are the customers?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Step != StepHandleError {
		t.Fatalf("Step = %q, want %q", st.Step, StepHandleError)
	}
	if st.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", st.Attempts)
	}
	if len(runner.sqls) != 3 {
		t.Fatalf("runner calls = %d, want 3 (initial plus two corrections)", len(runner.sqls))
	}
	if generator.correctCalls != 2 {
		t.Fatalf("correction calls = %d, want 2", generator.correctCalls)
	}
	want := `Sorry, I could not generate a working SQL query for your request after 2 attempts. Last error: Error: column "nmae" does not exist`
	if st.Answer != want {
		t.Fatalf("Answer = %q", st.Answer)
	}
}

func TestRunBlocksUnsafeSQLWithoutExecuting(t *testing.T) {
	generator := &scriptGenerator{
		generated:   "DROP TABLE info.customers",
		corrections: []string{"DROP TABLE info.customers"},
	}
	runner := &scriptRunner{outcomes: []query.Outcome{customersResult()}}
	engine := newTestEngine(t, generator, runner, scriptProvider{text: "schema"})

	st, err := engine.Run(context.Background(), "Delete all customers")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Step != StepHandleError {
		t.Fatalf("Step = %q, want %q", st.Step, StepHandleError)
	}
	if len(runner.sqls) != 0 {
		t.Fatalf("blocked SQL reached the database: %v", runner.sqls)
	}
	if !strings.Contains(st.Answer, "Error: Query blocked for security reasons") {
		t.Fatalf("Answer = %q", st.Answer)
	}
}

func TestRunSchemaFailureIsFatal(t *testing.T) {
	generator := &scriptGenerator{generated: "SELECT name FROM info.customers"}
	runner := &scriptRunner{outcomes: []query.Outcome{customersResult()}}
	engine := newTestEngine(t, generator, runner, scriptProvider{err: errors.New("connection refused")})

	st, err := engine.Run(context.Background(), "Who are the customers?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Step != StepHandleError {
		t.Fatalf("Step = %q, want %q", st.Step, StepHandleError)
	}
	if !strings.HasPrefix(st.Answer, "Sorry, I could not process your request because I failed to retrieve the database schema information.") {
		t.Fatalf("Answer = %q", st.Answer)
	}
	if !strings.Contains(st.Answer, "connection refused") {
		t.Fatalf("Answer missing underlying error: %q", st.Answer)
	}
	if len(runner.sqls) != 0 {
		t.Fatalf("pipeline continued past schema failure: %v", runner.sqls)
	}
}

func TestRunEmptySQLTriggersCorrection(t *testing.T) {
	generator := &scriptGenerator{
		generated:   "",
		corrections: []string{"SELECT name FROM info.customers"},
		answer:      "The customers are Alice and Bob.",
	}
	runner := &scriptRunner{outcomes: []query.Outcome{customersResult()}}
	engine := newTestEngine(t, generator, runner, scriptProvider{text: "schema"})

	st, err := engine.Run(context.Background(), "Who are the customers?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Step != StepFormatAnswer {
		t.Fatalf("Step = %q, want %q", st.Step, StepFormatAnswer)
	}
	if st.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", st.Attempts)
	}
	if generator.lastDBError != "Error: No SQL query was generated." {
		t.Fatalf("correction saw %q", generator.lastDBError)
	}
}

func TestRunCorrectionGeneratorFailureIsUnexpected(t *testing.T) {
	generator := &scriptGenerator{
		generated:  "SELECT nmae FROM info.customers",
		correctErr: errors.New("model unavailable"),
	}
	runner := &scriptRunner{outcomes: []query.Outcome{
		query.Failure(query.KindExecution, `column "nmae" does not exist`),
	}}
	engine := newTestEngine(t, generator, runner, scriptProvider{text: "schema"})

	st, err := engine.Run(context.Background(), "Who are the customers?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Step != StepHandleError {
		t.Fatalf("Step = %q, want %q", st.Step, StepHandleError)
	}
	if !strings.HasPrefix(st.Answer, "Sorry, an unexpected error occurred:") {
		t.Fatalf("Answer = %q", st.Answer)
	}
	if !strings.Contains(st.Answer, "model unavailable") {
		t.Fatalf("Answer missing underlying error: %q", st.Answer)
	}
}

func TestRunRejectsEmptyQuestion(t *testing.T) {
	generator := &scriptGenerator{generated: "SELECT 1"}
	runner := &scriptRunner{outcomes: []query.Outcome{customersResult()}}
	engine := newTestEngine(t, generator, runner, scriptProvider{text: "schema"})

	if _, err := engine.Run(context.Background(), "   "); err == nil {
		t.Fatal("Run() expected error for blank question")
	}
}

func TestRunTraceRecordsEveryTransition(t *testing.T) {
	generator := &scriptGenerator{
		generated: "SELECT name FROM info.customers",
		answer:    "Alice and Bob.",
	}
	runner := &scriptRunner{outcomes: []query.Outcome{customersResult()}}
	engine := newTestEngine(t, generator, runner, scriptProvider{text: "schema"})

	st, err := engine.Run(context.Background(), "Who are the customers?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	roles := make([]string, 0, len(st.Trace))
	for _, message := range st.Trace {
		roles = append(roles, message.Role)
	}
	want := []string{RoleUser, RoleAssistant, RoleTool, RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("trace roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("trace roles = %v, want %v", roles, want)
		}
	}
}
