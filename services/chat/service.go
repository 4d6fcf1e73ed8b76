package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const (
	roleUser       = "user"
	chatMaxTokens  = 800
	draftMaxTokens = 600
)

type Searcher interface {
	Search(ctx context.Context, accountID, term string) ([]dto.SearchHit, error)
}

// Service answers questions about a mailbox and drafts text with the
// language model. Chat is metered per user and day.
type Service struct {
	accounts interfaces.AccountRepository
	index    Searcher
	ai       interfaces.AIService
	credits  interfaces.ChatbotInteractionRepository
	cfg      config.ChatConfig
	now      func() time.Time
}

func NewService(
	accounts interfaces.AccountRepository,
	index Searcher,
	ai interfaces.AIService,
	credits interfaces.ChatbotInteractionRepository,
	cfg *config.ChatConfig,
) *Service {
	return &Service{
		accounts: accounts,
		index:    index,
		ai:       ai,
		credits:  credits,
		cfg:      *cfg,
		now:      time.Now,
	}
}

func (s *Service) Chat(ctx context.Context, userID string, request dto.ChatRequest) (*dto.ChatResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "chatService.Chat")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, request.AccountID)

	question := lastUserMessage(request.Messages)
	if request.AccountID == "" || question == "" {
		return nil, mailsync_errors.NewValidationError("messages", "accountId and a user message are required")
	}

	if err := s.authorize(ctx, userID, request.AccountID); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	day := utils.Today()
	used, reserved, err := s.credits.Reserve(ctx, userID, day, s.cfg.FreeCreditsPerDay)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if !reserved {
		return nil, mailsync_errors.ErrCreditsExhausted
	}

	hits, err := s.index.Search(ctx, request.AccountID, question)
	if err != nil {
		tracing.TraceErr(span, err)
		s.release(ctx, span, userID, day)
		return nil, err
	}
	span.LogKV("context.hits", len(hits))

	reply, err := s.ai.Complete(ctx, dto.CompletionRequest{
		SystemPrompt: chatSystemPrompt(s.now(), hits),
		Messages:     userMessages(request.Messages),
		MaxTokens:    chatMaxTokens,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		s.release(ctx, span, userID, day)
		return nil, err
	}

	remaining := s.cfg.FreeCreditsPerDay - used
	if remaining < 0 {
		remaining = 0
	}
	return &dto.ChatResponse{Reply: reply, Sources: hits, RemainingCredits: remaining}, nil
}

// release returns a reserved credit after a failed turn. It outlives a
// cancelled request.
func (s *Service) release(ctx context.Context, span opentracing.Span, userID, day string) {
	if err := s.credits.Release(context.WithoutCancel(ctx), userID, day); err != nil {
		tracing.TraceErr(span, err)
	}
}

// RemainingCredits reports how many chat turns the user has left today.
func (s *Service) RemainingCredits(ctx context.Context, userID string) (int, error) {
	used, err := s.credits.GetCount(ctx, userID, utils.Today())
	if err != nil {
		return 0, err
	}
	if used >= s.cfg.FreeCreditsPerDay {
		return 0, nil
	}
	return s.cfg.FreeCreditsPerDay - used, nil
}

func (s *Service) Compose(ctx context.Context, userID string, request dto.ComposeRequest) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "chatService.Compose")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if strings.TrimSpace(request.Prompt) == "" {
		return "", mailsync_errors.NewValidationError("prompt", "prompt is required")
	}
	if request.AccountID != "" {
		if err := s.authorize(ctx, userID, request.AccountID); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
	}

	text, err := s.ai.Complete(ctx, dto.CompletionRequest{
		Messages:  []dto.ChatMessage{{Role: roleUser, Content: composePrompt(s.now(), request.Context, request.Prompt)}},
		MaxTokens: draftMaxTokens,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return text, nil
}

func (s *Service) Autocomplete(ctx context.Context, userID string, request dto.AutocompleteRequest) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "chatService.Autocomplete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if strings.TrimSpace(request.Input) == "" {
		return "", mailsync_errors.NewValidationError("input", "input is required")
	}

	text, err := s.ai.Complete(ctx, dto.CompletionRequest{
		Messages:  []dto.ChatMessage{{Role: roleUser, Content: autocompletePrompt(request.Input)}},
		MaxTokens: 120,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return text, nil
}

func (s *Service) authorize(ctx context.Context, userID, accountID string) error {
	if userID == "" {
		return mailsync_errors.ErrUserIDNotSet
	}
	account, err := s.accounts.GetByIDForUser(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return mailsync_errors.ErrUnauthorizedAccount
	}
	return nil
}

func lastUserMessage(messages []dto.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == roleUser && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}

// only the user's turns are replayed to the model
func userMessages(messages []dto.ChatMessage) []dto.ChatMessage {
	out := make([]dto.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == roleUser {
			out = append(out, m)
		}
	}
	return out
}

func chatSystemPrompt(now time.Time, hits []dto.SearchHit) string {
	var b strings.Builder
	b.WriteString("You are an AI email assistant embedded in an email client app.\n")
	fmt.Fprintf(&b, "Current time: %s\n\n", now.Format(time.RFC1123))
	b.WriteString("START CONTEXT BLOCK\n")
	for _, hit := range hits {
		line, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteString("\n")
	}
	b.WriteString("END CONTEXT BLOCK\n\n")
	b.WriteString("Instructions:\n")
	b.WriteString("- Be concise, helpful, and articulate.\n")
	b.WriteString("- Only use the provided email context.\n")
	b.WriteString("- If you don't know the answer, say so.\n")
	b.WriteString("- Do not invent or speculate about anything not in context.")
	return b.String()
}

func composePrompt(now time.Time, emailContext, prompt string) string {
	return fmt.Sprintf(`You are an AI email assistant embedded in an email client app.
THE TIME NOW IS %s

START CONTEXT BLOCK
%s
END OF CONTEXT BLOCK

USER PROMPT:
%s

When responding, please keep in mind:
- Be helpful, clever, and articulate.
- Rely on the provided email context.
- Keep your response focused and relevant.
- Output only the email body text (no subject, greeting, or fluff).`, now.Format(time.RFC1123), emailContext, prompt)
}

func autocompletePrompt(input string) string {
	return fmt.Sprintf(`ALWAYS RESPOND IN PLAIN TEXT (no markdown or HTML).
You are a helpful AI that autocompletes text in an email editor.
Continue the following thought naturally:

<input>%s</input>

Be concise, polite, and contextually relevant.`, input)
}
