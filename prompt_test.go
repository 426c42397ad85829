package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	tools := []ToolDescription{
		{Name: "list_servers", Description: "List configured servers"},
		{Name: "mcp__fs__read", Description: "Read a file"},
	}

	tests := []struct {
		name       string
		template   string
		additional string
		want       string
	}{
		{
			name:     "placeholder replaced",
			template: "Tools:\n{tool_descriptions}\nEnd.",
			want:     "Tools:\n- list_servers: List configured servers\n- mcp__fs__read: Read a file\nEnd.",
		},
		{
			name:     "no placeholder appends the list",
			template: "Be helpful.",
			want:     "Be helpful.\n\nAvailable tools:\n- list_servers: List configured servers\n- mcp__fs__read: Read a file",
		},
		{
			name:       "additional instructions go last",
			template:   "{tool_descriptions}",
			additional: "Answer briefly.",
			want:       "- list_servers: List configured servers\n- mcp__fs__read: Read a file\n\nAnswer briefly.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildSystemPrompt(tt.template, tools, tt.additional))
		})
	}
}

func TestBuildSystemPrompt_NoTools(t *testing.T) {
	got := buildSystemPrompt(DefaultSystemPromptTemplate, nil, "")
	assert.NotContains(t, got, toolDescriptionsPlaceholder)
}

func TestServerManagerTemplateMentionsMetaTools(t *testing.T) {
	for _, name := range []string{"list_servers", "connect_to_server", "disconnect_from_server", "search_tools"} {
		assert.Contains(t, ServerManagerSystemPromptTemplate, name)
	}
	assert.Contains(t, ServerManagerSystemPromptTemplate, toolDescriptionsPlaceholder)
}
