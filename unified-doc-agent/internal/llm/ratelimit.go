package llm

import (
	"context"

	"golang.org/x/time/rate"
)

type limitedModel struct {
	next    Model
	limiter *rate.Limiter
}

// RateLimited wraps m so that at most perSecond calls start each second.
func RateLimited(m Model, perSecond float64, burst int) Model {
	if burst < 1 {
		burst = 1
	}
	return &limitedModel{next: m, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *limitedModel) Complete(ctx context.Context, messages []Message) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Complete(ctx, messages)
}

func (l *limitedModel) CompleteWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return l.next.CompleteWithTools(ctx, messages, tools)
}
