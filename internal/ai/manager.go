package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	answerTemperature   = 0.3
	answerMaxTokens     = 2048
	keywordTemperature  = 0.1
	keywordMaxTokens    = 200
	summaryInputRunes   = 4000
	keywordInputRunes   = 2000
	defaultSummaryWords = 500
	defaultKeywords     = 10
)

const answerSystemPrompt = `You are AskScribe, an intelligent document analysis assistant. Your task is to provide accurate, structured, and helpful answers based on the provided context from user documents.

RESPONSE GUIDELINES:
1. **Structure**: Use clear headings, bullet points, and numbered lists
2. **Keywords**: Highlight important terms using **bold** formatting
3. **Accuracy**: Only use information from the provided context
4. **Clarity**: Provide point-wise, well-organized answers
5. **Source**: Reference the document context when relevant

If the context doesn't contain sufficient information to answer the question, respond with "**Answer not in context**" followed by a brief explanation.

Format your response in a clear, professional manner suitable for document analysis.`

type ManagerConfig struct {
	Timeout int
}

type Manager struct {
	generator IGenerator
	cfg       ManagerConfig
}

func NewManager(generator IGenerator, cfg ManagerConfig) *Manager {
	return &Manager{
		generator: generator,
		cfg:       cfg,
	}
}

// Synthesize answers question from the retrieved context and tidies the
// markdown layout of the reply.
func (m *Manager) Synthesize(ctx context.Context, question string, contextText string) (string, error) {
	prompt := fmt.Sprintf(`**Question**: %s

**Context from Documents**:
%s

**Instructions**: Based on the above context, provide a comprehensive, structured answer to the question. Use proper formatting with headings, bullet points, and **bold** keywords where appropriate.`, question, contextText)
	text, err := m.generateText(ctx, GenerateRequest{
		System:      answerSystemPrompt,
		Prompt:      prompt,
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return formatResponse(text), nil
}

func (m *Manager) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	if maxWords <= 0 {
		maxWords = defaultSummaryWords
	}
	prompt := fmt.Sprintf(`Summarize the following document content in a clear, structured format. Keep the summary under %d words and highlight **key points**.

Document Content:
%s

Provide a concise summary with bullet points for main topics.`, maxWords, truncateRunes(text, summaryInputRunes))
	return m.generateText(ctx, GenerateRequest{
		Prompt:      prompt,
		Temperature: answerTemperature,
		MaxTokens:   maxWords * 2,
	})
}

func (m *Manager) ExtractKeywords(ctx context.Context, text string, maxKeywords int) ([]string, error) {
	if maxKeywords <= 0 {
		maxKeywords = defaultKeywords
	}
	prompt := fmt.Sprintf(`Extract the %d most important keywords or phrases from the following text. Return only the keywords, one per line, without numbering or bullet points.

Text:
%s`, maxKeywords, truncateRunes(text, keywordInputRunes))
	result, err := m.generateText(ctx, GenerateRequest{
		Prompt:      prompt,
		Temperature: keywordTemperature,
		MaxTokens:   keywordMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return parseKeywords(result, maxKeywords), nil
}

func (m *Manager) generateText(ctx context.Context, req GenerateRequest) (string, error) {
	if m.generator == nil {
		return "", fmt.Errorf("generator not configured")
	}
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	resp, err := m.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

// formatResponse trims every line, drops blank ones and puts a blank line
// around headings and bold-only lines.
func formatResponse(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isHeadingLine(line) {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			out = append(out, line, "")
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func isHeadingLine(line string) bool {
	if strings.HasPrefix(line, "#") {
		return true
	}
	return strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**")
}

func parseKeywords(output string, maxKeywords int) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		kw := strings.TrimSpace(line)
		if kw == "" {
			continue
		}
		out = append(out, kw)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}

func truncateRunes(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
