package nl2sql

import "context"

// Generator is the text-generation oracle behind the question pipeline.
// There is no contract on SQL correctness; every candidate it returns
// still has to pass the safety gate before execution.
type Generator interface {
	GenerateSQL(ctx context.Context, schemaText, question, schemaName string) (string, error)
	CorrectSQL(ctx context.Context, schemaText, question, failedSQL, dbError string) (string, error)
	FormatAnswer(ctx context.Context, question, resultText string) (string, error)
}
