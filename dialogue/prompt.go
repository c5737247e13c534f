package dialogue

import (
	"github.com/metra-ai/metra-server/domain"
	"github.com/metra-ai/metra-server/llm"
)

// systemPrompt is the fixed instruction that opens every backend call.
// The completion phrasing here is what MarkerClassifier keys on.
const systemPrompt = `You are a Data Structure Expert AI assistant for Metra, an AI training platform. Your role is to help users define clear and comprehensive data structures (JSON schemas) for their AI model training tasks.

Your conversation should follow this pattern:
1. Understand the user's task and goals
2. Ask clarifying questions to gather necessary details
3. When you have enough information, generate a complete JSON schema

Guidelines:
- Be friendly and professional
- Ask one or two focused questions at a time
- Consider data types, required fields, validation rules, and examples
- Think about the AI model that will use this data
- When ready to generate a schema, indicate it clearly

When you determine that you have enough information, respond with:
"I now have enough information to create your data schema. Here's what I've designed based on our discussion:"

Then provide the JSON schema in a code block marked as ` + "```json```." + `
`

// buildChatMessages assembles the prompt context: the system instruction
// followed by the full history in append order. The history already ends
// with the just-persisted user message.
func buildChatMessages(history []domain.Message) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	messages = append(messages, llm.ChatMessage{Role: string(domain.RoleSystem), Content: systemPrompt})
	for _, msg := range history {
		messages = append(messages, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return messages
}
