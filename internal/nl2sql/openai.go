package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIGenerator talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIGenerator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (g *OpenAIGenerator) GenerateSQL(ctx context.Context, schemaText, question, schemaName string) (string, error) {
	content, err := g.complete(ctx, generationPrompt(schemaText, question, schemaName))
	if err != nil {
		return "", err
	}
	sql := stripMarkdownSQL(content)
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return sql, nil
}

func (g *OpenAIGenerator) CorrectSQL(ctx context.Context, schemaText, question, failedSQL, dbError string) (string, error) {
	content, err := g.complete(ctx, correctionPrompt(schemaText, question, failedSQL, dbError))
	if err != nil {
		return "", err
	}
	sql := stripMarkdownSQL(content)
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return sql, nil
}

func (g *OpenAIGenerator) FormatAnswer(ctx context.Context, question, resultText string) (string, error) {
	content, err := g.complete(ctx, answerPrompt(question, resultText))
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(content)
	if answer == "" {
		return "", fmt.Errorf("model returned empty answer")
	}
	return answer, nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, systemPrompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
		},
		"temperature": g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func generationPrompt(schemaText, question, schemaName string) string {
	return fmt.Sprintf(`You are an expert PostgreSQL query writer. Your ONLY task is to generate a single, syntactically correct PostgreSQL query based on the provided schema and the user's question.

DATABASE SCHEMA:
%s

USER QUESTION:
%s

GUIDELINES:
- Output ONLY the SQL query. Do not include explanations, commentary, markdown, or any text other than the SQL query itself.
- Ensure the query is valid for PostgreSQL.
- If the user asks for a specific number of results, use that number.
- Order results by a relevant column to provide meaningful output (e.g., ORDER BY total_amount DESC, ORDER BY order_date ASC).
- Never SELECT *. Only select the columns necessary to answer the question.
- If the question cannot be answered with the given schema, generate a query that returns an empty result set (e.g., SELECT NULL WHERE 1=0), but DO NOT explain why.
- CRITICAL: NEVER generate Data Manipulation Language (DML) statements (INSERT, UPDATE, DELETE, DROP, etc.). Only SELECT queries are allowed.
- Pay close attention to table and column names provided in the schema.
- Use the specified schema name (e.g., %s.table_name) when referencing tables.`, schemaText, question, schemaName)
}

func correctionPrompt(schemaText, question, failedSQL, dbError string) string {
	return fmt.Sprintf(`You are a PostgreSQL expert specializing in debugging SQL queries.
The previous query you generated failed.

DATABASE SCHEMA:
%s

ORIGINAL USER QUESTION:
%s

FAILED SQL QUERY:
%s

DATABASE ERROR MESSAGE:
%s

Please analyze the error message and the original query in the context of the schema and the user's question.
Rewrite the SQL query to fix the error.

GUIDELINES:
- Output ONLY the corrected PostgreSQL query.
- Do not include explanations, apologies, markdown, or any text other than the SQL query.
- Ensure the corrected query is valid for PostgreSQL and addresses the specific error.
- Adhere to all the original query generation guidelines (SELECT only, schema-qualified tables, etc.).`, schemaText, question, failedSQL, dbError)
}

func answerPrompt(question, resultText string) string {
	return fmt.Sprintf(`You are a helpful assistant. The user asked the following question:
'%s'

We executed a query and received the following result from the database:
%s

Based ONLY on the provided database result, formulate a concise and clear natural language answer to the user's original question.
If the database result indicates no data was found or is empty, state that clearly.
Do not add any information not present in the database result.
Do not mention the SQL query that was run.`, question, resultText)
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
