package llm

import (
	"context"
	"hash/fnv"
)

// stubCandidates is a small deterministic pool of generic rewrite
// candidates. The Regeneration Engine's post-processor re-grafts the
// required structural skeleton regardless of which candidate is
// picked, so these only need to look like plausible markup.
var stubCandidates = []string{
	"<div>Limited time — act now and save.</div>",
	"<div>Trusted by thousands of customers like you.</div>",
	"<div>See why shoppers keep coming back.</div>",
	"<div>Only a few left in stock.</div>",
}

// StubClient is a deterministic, network-free LLMClient used when no
// backend is configured (spec.md §9's mode ∈ {multi-agent, stub}).
// The same prompt always yields the same candidate.
type StubClient struct{}

func NewStubClient() *StubClient {
	return &StubClient{}
}

func (s *StubClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	idx := int(h.Sum32() % uint32(len(stubCandidates)))
	return stubCandidates[idx], nil
}
