package research

import (
	"context"

	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/pkg/perplexity"
)

// breakerClient gates a search client behind a circuit breaker so a
// hard-down provider sheds load fast instead of burning every worker's
// retry budget.
type breakerClient struct {
	inner   perplexity.Client
	breaker *resilience.Breaker
}

// WithBreaker wraps a search client with the given circuit breaker. All
// agents sharing one wrapped client share one view of provider health.
func WithBreaker(inner perplexity.Client, breaker *resilience.Breaker) perplexity.Client {
	return &breakerClient{inner: inner, breaker: breaker}
}

func (c *breakerClient) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := c.inner.ChatCompletion(ctx, req)
	c.breaker.Record(err)
	return resp, err
}
