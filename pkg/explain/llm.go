package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"

	"github.com/elonfeng/openchain/pkg/recommend"
	"github.com/elonfeng/openchain/pkg/scale"
	"github.com/elonfeng/openchain/pkg/source"
)

// ErrDisabled is returned when no language model is configured.
var ErrDisabled = errors.New("llm explanations disabled")

const relationshipPrompt = `You explain open source recommendations. A developer asked why one GitHub
%s was recommended for another. Using only the data below, write 2-4 sentences on
what connects them (shared languages, topics, scale of activity) and what the
subject could gain from looking at the target. Do not invent facts.

Subject (%s):
%s

Target (%s):
%s

Similarity: %.2f (0 unrelated, 1 near identical)
Scale: subject %.1f (%s), target %.1f (%s)`

// Explainer asks a language model to describe why two entities relate.
type Explainer struct {
	provider  string // "openai" or "anthropic"
	model     string
	maxTokens int64

	anthropic *anthropic.Client
	openai    *openai.Client
}

// NewExplainer creates an explainer. An empty apiKey yields a disabled
// explainer whose calls return ErrDisabled.
func NewExplainer(provider, model, apiKey, baseURL string) *Explainer {
	e := &Explainer{provider: provider, model: model, maxTokens: 512}
	if apiKey == "" {
		return e
	}
	timeout := 60 * time.Second

	switch provider {
	case "anthropic":
		if e.model == "" {
			e.model = "claude-sonnet-4-20250514"
		}
		opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey), aoption.WithRequestTimeout(timeout)}
		if baseURL != "" {
			opts = append(opts, aoption.WithBaseURL(baseURL))
		}
		client := anthropic.NewClient(opts...)
		e.anthropic = &client
	default:
		e.provider = "openai"
		if e.model == "" {
			e.model = "gpt-4o-mini"
		}
		opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey), ooption.WithRequestTimeout(timeout)}
		if baseURL != "" {
			opts = append(opts, ooption.WithBaseURL(baseURL))
		}
		client := openai.NewClient(opts...)
		e.openai = &client
	}
	return e
}

// Enabled reports whether calls will reach a model.
func (e *Explainer) Enabled() bool {
	return e != nil && (e.anthropic != nil || e.openai != nil)
}

// Provider names the configured backend.
func (e *Explainer) Provider() string {
	if e == nil {
		return ""
	}
	return e.provider
}

// Relationship explains rel in a few sentences.
func (e *Explainer) Relationship(ctx context.Context, rel *recommend.Relationship) (string, error) {
	if !e.Enabled() {
		return "", ErrDisabled
	}
	if rel == nil || rel.Subject == nil || rel.Target == nil {
		return "", errors.New("explain relationship: missing entity")
	}

	prompt := fmt.Sprintf(relationshipPrompt,
		rel.Target.Kind,
		rel.Subject.Kind, describe(rel.Subject),
		rel.Target.Kind, describe(rel.Target),
		rel.Similarity,
		rel.SubjectScale, scale.Level(rel.SubjectScale),
		rel.TargetScale, scale.Level(rel.TargetScale))

	var (
		text string
		err  error
	)
	switch e.provider {
	case "anthropic":
		text, err = e.callAnthropic(ctx, prompt)
	default:
		text, err = e.callOpenAI(ctx, prompt)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: empty response", e.provider)
	}
	return text, nil
}

func (e *Explainer) callOpenAI(ctx context.Context, prompt string) (string, error) {
	resp, err := e.openai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.3),
	})
	if err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *Explainer) callAnthropic(ctx context.Context, prompt string) (string, error) {
	msg, err := e.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// describe renders the facts about an entity the prompt may use.
func describe(e *source.Entity) string {
	var lines []string
	add := func(format string, args ...any) { lines = append(lines, "- "+fmt.Sprintf(format, args...)) }

	add("id: %s", e.ID)
	switch {
	case e.User != nil:
		if e.User.Bio != "" {
			add("bio: %s", truncateStr(e.User.Bio, 200))
		}
		add("followers: %d, public repos: %d", e.User.Followers, e.User.PublicRepos)
		if langs := e.Languages(); len(langs) > 0 {
			add("languages: %s", strings.Join(firstN(langs, 8), ", "))
		}
		if topics := e.Topics(); len(topics) > 0 {
			add("topics: %s", strings.Join(firstN(topics, 10), ", "))
		}
	case e.Repo != nil:
		if e.Repo.Description != "" {
			add("description: %s", truncateStr(e.Repo.Description, 200))
		}
		add("language: %s, stars: %d, forks: %d", orDash(e.Repo.Language), e.Repo.Stars, e.Repo.Forks)
		if len(e.Repo.Topics) > 0 {
			add("topics: %s", strings.Join(firstN(e.Repo.Topics, 10), ", "))
		}
	}
	if e.HasOpenRank() {
		add("openrank: %.2f", *e.OpenRank)
	}
	return strings.Join(lines, "\n")
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
