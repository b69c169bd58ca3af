package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"esimstore/internal/ai"
)

const assistantFallbackAnswer = "Sorry, I can't help with that right now. Try rephrasing your question, " +
	"or contact a human operator through the support bot."

type ChatCompletionClient interface {
	Complete(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error)
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature,omitempty"`
	Messages    []ChatMessage `json:"messages"`
}

type ChatCompletionResponse struct {
	Content string
}

// AssistantService answers support questions from the FAQ knowledge base,
// optionally reformatted through an LLM. The KB is the source of truth;
// the LLM never invents facts on top of it.
type AssistantService struct {
	kb      *ai.KnowledgeBase
	client  ChatCompletionClient
	timeout time.Duration
}

type AskParams struct {
	Question string
	UseLLM   bool
	MaxKB    int
}

type KBRef struct {
	ID    string `json:"id"`
	Score int    `json:"score,omitempty"`
}

type AskResult struct {
	Answer string  `json:"answer"`
	Source string  `json:"source"` // "kb", "llm", "kb+llm", "greeting", "fallback"
	KBRefs []KBRef `json:"kb_refs,omitempty"`
}

func NewAssistantService(kb *ai.KnowledgeBase, client ChatCompletionClient) *AssistantService {
	if kb == nil {
		kb = ai.DefaultKnowledgeBase()
	}
	return &AssistantService{
		kb:      kb,
		client:  client,
		timeout: 25 * time.Second,
	}
}

func (s *AssistantService) Ask(ctx context.Context, params AskParams) (AskResult, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return AskResult{Answer: assistantFallbackAnswer, Source: "fallback"}, nil
	}

	if isGreeting(question) {
		return AskResult{
			Answer: "Hi! I can help with installing your eSIM, payments, top-ups, " +
				"cancellations and data usage. What's the question?",
			Source: "greeting",
		}, nil
	}

	maxKB := params.MaxKB
	if maxKB <= 0 {
		maxKB = 3
	}

	bestEntry, bestScore, found := s.kb.FindBestMatch(question)
	kbHasMatch := found && bestScore > 0
	snippets := s.kb.TopEntries(question, maxKB)

	if kbHasMatch {
		if params.UseLLM && s.client != nil {
			return s.answerFromKBViaLLM(ctx, question, bestEntry, bestScore)
		}
		return AskResult{
			Answer: bestEntry.Answer,
			Source: "kb",
			KBRefs: []KBRef{{ID: bestEntry.ID, Score: bestScore}},
		}, nil
	}

	if !params.UseLLM || s.client == nil {
		return AskResult{Answer: assistantFallbackAnswer, Source: "fallback"}, nil
	}

	llmCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := []ChatMessage{{Role: "system", Content: assistantSystemPrompt}}
	if len(snippets) > 0 {
		messages = append(messages, ChatMessage{Role: "system", Content: buildContext(snippets)})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: question})

	resp, err := s.client.Complete(llmCtx, ChatCompletionRequest{
		Temperature: 0.2,
		Messages:    messages,
	})

	answer := strings.TrimSpace(resp.Content)
	if err != nil || answer == "" {
		return AskResult{Answer: assistantFallbackAnswer, Source: "fallback"}, nil
	}

	refs := make([]KBRef, 0, len(snippets))
	for _, snippet := range snippets {
		refs = append(refs, KBRef{ID: snippet.Entry.ID, Score: snippet.Score})
	}

	source := "llm"
	if len(snippets) > 0 {
		source = "kb+llm"
	}
	return AskResult{Answer: answer, Source: source, KBRefs: refs}, nil
}

// answerFromKBViaLLM uses the LLM only as a formatter of the KB answer;
// the facts stay those of the matched entry.
func (s *AssistantService) answerFromKBViaLLM(ctx context.Context, question string, bestEntry ai.KBEntry, bestScore int) (AskResult, error) {
	llmCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	systemPrompt := "You are the support assistant of an eSIM store.\n" +
		"You are given a knowledge-base answer (the source of truth) and the user's question.\n" +
		"Rewrite the answer so it addresses the question directly, as a short summary " +
		"followed by numbered steps where steps apply.\n" +
		"Do not add capabilities, plans or policies that are not in the source answer. " +
		"If the question is broader than the source answer, stick to what the source covers."

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "system", Content: fmt.Sprintf("Knowledge-base answer (source of truth):\n\n%s", bestEntry.Answer)},
		{Role: "user", Content: fmt.Sprintf("User question: %s", question)},
	}

	resp, err := s.client.Complete(llmCtx, ChatCompletionRequest{
		Temperature: 0.1,
		Messages:    messages,
	})

	finalAnswer := strings.TrimSpace(resp.Content)
	if err != nil || finalAnswer == "" {
		// LLM down: serve the KB answer as is
		return AskResult{
			Answer: bestEntry.Answer,
			Source: "kb",
			KBRefs: []KBRef{{ID: bestEntry.ID, Score: bestScore}},
		}, nil
	}

	return AskResult{
		Answer: finalAnswer,
		Source: "kb+llm",
		KBRefs: []KBRef{{ID: bestEntry.ID, Score: bestScore}},
	}, nil
}

const assistantSystemPrompt = "You are the support assistant of a Telegram eSIM store. " +
	"Answer only about the store and its eSIMs: buying packages, paying with crypto, bank card or " +
	"Telegram Stars, installing a profile from a QR code, topping up, canceling unused eSIMs and " +
	"checking data usage.\n" +
	"Answer with a short summary first, then numbered steps if steps apply.\n" +
	"Use only the provided context snippets and general eSIM handling knowledge; " +
	"never invent store policies, prices or plans."

func buildContext(snippets []ai.ScoredEntry) string {
	var builder strings.Builder
	builder.WriteString("Knowledge context:\n")
	for _, snippet := range snippets {
		builder.WriteString(fmt.Sprintf("Answer: %s\n", snippet.Entry.Answer))
		if len(snippet.Entry.Keywords) > 0 {
			builder.WriteString(fmt.Sprintf("Keywords: %s\n", strings.Join(snippet.Entry.Keywords, ", ")))
		}
		builder.WriteString("\n")
	}
	return builder.String()
}

func isGreeting(question string) bool {
	q := strings.ToLower(strings.TrimRight(question, "!. "))
	switch q {
	case "hi", "hello", "hey", "good morning", "good afternoon", "good evening", "start", "привет":
		return true
	}
	return false
}
