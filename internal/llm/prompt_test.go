package llm

import (
	"encoding/json"
	"testing"

	"github.com/profilerbackend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages_ChatUsesHistory(t *testing.T) {
	msgs := BuildMessages(PromptInput{
		Prompt: "what motivates him?",
		PriorTurns: []models.ChatTurn{
			{Role: "user", Content: "tell me about his work style"},
			{Role: "assistant", Content: "he prefers routine"},
		},
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "tell me about his work style", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "user", msgs[3].Role)
	assert.Equal(t, "what motivates him?", msgs[3].Content)
}

func TestBuildMessages_ProfilingUsesReferenceMaterial(t *testing.T) {
	msgs := BuildMessages(PromptInput{
		Profiling:         true,
		Prompt:            "build the profile",
		ReferenceMaterial: "subject: prefers written communication",
		PriorTurns: []models.ChatTurn{
			{Role: "user", Content: "this must not appear"},
		},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "prefers written communication")
	for _, m := range msgs {
		assert.NotContains(t, m.Content, "this must not appear")
	}
}

func TestBuildMessages_LanguageInstruction(t *testing.T) {
	msgs := BuildMessages(PromptInput{Prompt: "hola", UserLanguage: "Spanish"})
	assert.Contains(t, msgs[0].Content, "Respond in Spanish.")
}

func TestBuildMessages_ImageTurn(t *testing.T) {
	msgs := BuildMessages(PromptInput{Prompt: "who is this?", ImageBase64: "aGVsbG8="})

	last := msgs[len(msgs)-1]
	parts, ok := last.Content.([]contentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", parts[1].ImageURL.URL)
}

func TestMarshalPayload_Deterministic(t *testing.T) {
	c := NewClient("https://upstream.test", "k", "test-model", defaultTestConfig(), nil)
	msgs := BuildMessages(PromptInput{Prompt: "hello"})

	first, err := c.MarshalPayload(msgs)
	require.NoError(t, err)
	second, err := c.MarshalPayload(msgs)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, "test-model", decoded["model"])
}
