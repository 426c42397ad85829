package agent

import "strings"

const toolDescriptionsPlaceholder = "{tool_descriptions}"

// DefaultSystemPromptTemplate is used when no template or prompt is configured.
const DefaultSystemPromptTemplate = `You are an assistant with access to these tools:

{tool_descriptions}

Proactively use these tools to:
- Find real-time information (weather, news, prices)
- Perform web searches and extract relevant data
- Execute multi-step tasks by combining tools

You CAN access current information using your tools. Never claim you lack access to real-time data.
When a tool reports an error, read it and either retry with corrected arguments or explain what went wrong.`

// ServerManagerSystemPromptTemplate is used when tools come from a server
// manager and change as servers are connected.
const ServerManagerSystemPromptTemplate = `You are a helpful assistant designed to interact with MCP (Model Context Protocol) servers.
You can manage connections to different servers and use the tools provided by the connected servers.

Important: the available tools change dynamically based on which servers are connected.

- When you connect to a server using 'connect_to_server', that server's tools are added to your available tools with their full schemas.
- When you disconnect using 'disconnect_from_server', the server's tools are removed.
- Use 'list_servers' to see the configured servers and 'search_tools' to find which server offers a capability before connecting.

If a request requires tools not currently listed below, you MUST first connect to the appropriate server.
After connecting, the server's tools are immediately available to you. No additional steps are needed.

Here are the tools currently available to you (this list updates when connecting or disconnecting servers):
{tool_descriptions}`

// PromptTemplater is implemented by tool providers that want a specific
// system prompt template.
type PromptTemplater interface {
	SystemPromptTemplate() string
}

// toolDescriptionLines renders "- name: description" lines.
func toolDescriptionLines(tools []ToolDescription) string {
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, "- "+t.Name+": "+t.Description)
	}
	return strings.Join(lines, "\n")
}

// buildSystemPrompt fills the template's placeholder with tool descriptions.
// A template without the placeholder gets the list appended instead.
func buildSystemPrompt(template string, tools []ToolDescription, additional string) string {
	block := toolDescriptionLines(tools)

	var prompt string
	if strings.Contains(template, toolDescriptionsPlaceholder) {
		prompt = strings.ReplaceAll(template, toolDescriptionsPlaceholder, block)
	} else {
		prompt = template + "\n\nAvailable tools:\n" + block
	}
	if additional != "" {
		prompt += "\n\n" + additional
	}
	return prompt
}
