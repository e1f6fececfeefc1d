package llm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/llm"
)

func TestTokenCounterCountsKnownModel(t *testing.T) {
	c := llm.NewTokenCounter("gpt-4o")
	n := c.Count("hello world")
	require.Greater(t, n, 0)
	require.Less(t, n, 11)
}

func TestTokenCounterFallsBackForUnknownModel(t *testing.T) {
	c := llm.NewTokenCounter("some-future-model-nobody-has-heard-of")
	n := c.Count("hello world")
	require.Greater(t, n, 0)
}

func TestTokenCounterCountRequestSumsSystemAndContents(t *testing.T) {
	c := llm.NewTokenCounter("gpt-4")
	req := &llm.Request{
		SystemInstruction: "be concise",
		Contents: []content.Content{
			content.NewText(content.RoleUser, "what is the weather"),
			content.NewText(content.RoleModel, "it is sunny"),
		},
	}
	total := c.CountRequest(req)
	require.Greater(t, total, c.Count("be concise"))
}
