package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gosuda/relai/internal/domain"
)

// HandoffMarker is the token the answering prompt instructs the model to
// emit when the retrieved context does not contain the answer.
const HandoffMarker = "HANDOFF"

const greetingPrompt = `You are a friendly support assistant. Write a short greeting ` +
	`to open a conversation. Introduce yourself as the assistant and invite the user ` +
	`to ask their question. Answer in %s. Write nothing but the greeting itself.`

const languageDetectPrompt = `Identify the language of the user message below. ` +
	`Answer with the English name of the language as a single word, for example ` +
	`"English" or "Spanish". Do not explain.

Message: %s`

const repeatPrompt = `The user previously asked the following questions:
%s

They now ask: %s

Is the new question a repetition of one of the previous ones, asking for the same ` +
	`information again? Answer with exactly one word: YES or NO.`

const translatePrompt = `Translate the following text into %s. If it is already ` +
	`in %s, return it unchanged. Output only the translation.

%s`

const summarizePrompt = `You maintain a running summary of a support conversation. ` +
	`Merge the new turns below into the existing summary. Keep the user's goals, ` +
	`stated facts, and any unresolved questions. Be concise; output only the updated summary.

Existing summary:
%s

New turns:
%s`

const profilePrompt = `You maintain a short profile of the user in a support ` +
	`conversation: who they are, what they use, and what they care about, as far as the ` +
	`conversation reveals it. Update the profile with the new turns below. Output only ` +
	`the updated profile.

Existing profile:
%s

New turns:
%s`

const answerPrompt = `You are a support assistant answering from the provided ` +
	`documentation excerpts only. If the excerpts do not contain the answer, reply with ` +
	`exactly the word ` + HandoffMarker + ` and nothing else. Answer in %s.

Conversation summary:
%s

User profile:
%s

Documentation excerpts:
%s`

const followupPrompt = `You are a support assistant continuing a conversation. ` +
	`Answer the user's latest message using the conversation so far. If you cannot give ` +
	`a useful answer, reply with an empty message. Answer in %s.

Conversation summary:
%s

User profile:
%s`

// Assistant wraps a Generator with the fixed prompts each conversational
// task uses.
type Assistant struct {
	gen Generator
}

func NewAssistant(gen Generator) *Assistant {
	return &Assistant{gen: gen}
}

// Greet produces the opening message for a fresh conversation.
func (a *Assistant) Greet(ctx context.Context, language string) (Reply, error) {
	return a.gen.Generate(ctx, GenerateRequest{
		System: fmt.Sprintf(greetingPrompt, orEnglish(language)),
		Turns:  []domain.Turn{{Role: domain.RoleUser, Text: "Hello"}},
	})
}

// DetectLanguage names the language of text. Any answer that is not a
// single word, and a short-circuited backend, both fall back to English.
func (a *Assistant) DetectLanguage(ctx context.Context, text string) (string, int64, error) {
	reply, err := a.gen.Generate(ctx, GenerateRequest{
		Turns: []domain.Turn{{Role: domain.RoleUser, Text: fmt.Sprintf(languageDetectPrompt, text)}},
	})
	if errors.Is(err, ErrCircuitOpen) {
		return "English", 0, nil
	}
	if err != nil {
		return "", 0, err
	}

	lang := strings.TrimSpace(reply.Text)
	if lang == "" || strings.ContainsAny(lang, " \t\n") {
		return "English", reply.TokensSpent, nil
	}
	return lang, reply.TokensSpent, nil
}

// IsRepeat reports whether query re-asks one of the previous queries.
func (a *Assistant) IsRepeat(ctx context.Context, query string, previous []string) (bool, int64, error) {
	if len(previous) == 0 {
		return false, 0, nil
	}

	var listed strings.Builder
	for _, p := range previous {
		listed.WriteString("- ")
		listed.WriteString(p)
		listed.WriteString("\n")
	}

	reply, err := a.gen.Generate(ctx, GenerateRequest{
		Turns: []domain.Turn{{
			Role: domain.RoleUser,
			Text: fmt.Sprintf(repeatPrompt, listed.String(), query),
		}},
	})
	if err != nil {
		return false, 0, err
	}

	answer := strings.ToUpper(strings.TrimSpace(reply.Text))
	return strings.HasPrefix(answer, "YES"), reply.TokensSpent, nil
}

// Translate renders text into language.
func (a *Assistant) Translate(ctx context.Context, text, language string) (Reply, error) {
	lang := orEnglish(language)
	return a.gen.Generate(ctx, GenerateRequest{
		Turns: []domain.Turn{{
			Role: domain.RoleUser,
			Text: fmt.Sprintf(translatePrompt, lang, lang, text),
		}},
	})
}

// Summarize folds turns into the existing running summary.
func (a *Assistant) Summarize(ctx context.Context, existing string, turns []domain.Turn) (Reply, error) {
	return a.gen.Generate(ctx, GenerateRequest{
		Turns: []domain.Turn{{
			Role: domain.RoleUser,
			Text: fmt.Sprintf(summarizePrompt, orNone(existing), renderTurns(turns)),
		}},
	})
}

// Profile folds turns into the existing user profile.
func (a *Assistant) Profile(ctx context.Context, existing string, turns []domain.Turn) (Reply, error) {
	return a.gen.Generate(ctx, GenerateRequest{
		Turns: []domain.Turn{{
			Role: domain.RoleUser,
			Text: fmt.Sprintf(profilePrompt, orNone(existing), renderTurns(turns)),
		}},
	})
}

// Answer generates a grounded reply to question from retrieved snippets.
// The caller must check the reply for HandoffMarker.
func (a *Assistant) Answer(ctx context.Context, question string, contexts []Snippet, summary, profile, language string) (Reply, error) {
	var excerpts strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&excerpts, "[%d] %s\n", i+1, c.Text)
	}

	return a.gen.Generate(ctx, GenerateRequest{
		System: fmt.Sprintf(answerPrompt, orEnglish(language), orNone(summary), orNone(profile), excerpts.String()),
		Turns:  []domain.Turn{{Role: domain.RoleUser, Text: question}},
	})
}

// AnswerFromHistory generates a free-form reply from the full conversation
// window, without retrieval.
func (a *Assistant) AnswerFromHistory(ctx context.Context, turns []domain.Turn, summary, profile, language string) (Reply, error) {
	return a.gen.Generate(ctx, GenerateRequest{
		System: fmt.Sprintf(followupPrompt, orEnglish(language), orNone(summary), orNone(profile)),
		Turns:  turns,
	})
}

func renderTurns(turns []domain.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func orEnglish(language string) string {
	if language == "" {
		return "English"
	}
	return language
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
