package tock

import "time"

// PlayerID identifies one conversation participant (user or bot).
type PlayerID struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// ConnectorType identifies the channel the end user is talking through.
type ConnectorType struct {
	ID                string `json:"id"`
	UserInterfaceType string `json:"userInterfaceType,omitempty"`
}

// RequestContext carries the per-request routing metadata the platform
// resolved before forwarding the request to the bot.
type RequestContext struct {
	Namespace     string        `json:"namespace"`
	Language      string        `json:"language"`
	ConnectorType ConnectorType `json:"connectorType"`
	UserInterface string        `json:"userInterface"`
	ApplicationID string        `json:"applicationId"`
	UserID        PlayerID      `json:"userId"`
	BotID         PlayerID      `json:"botId"`
	User          string        `json:"user,omitempty"`
}

// UserMessageText is the message type of a plain text user utterance.
const UserMessageText = "text"

// UserMessage is the raw payload the end user sent.
type UserMessage struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// IsText reports whether the message is a plain text utterance.
func (m UserMessage) IsText() bool {
	return m.Type == UserMessageText
}

// Entity is a structured value the platform extracted from the user message.
type Entity struct {
	Type        string   `json:"type"`
	Role        string   `json:"role"`
	Content     string   `json:"content,omitempty"`
	Value       string   `json:"value,omitempty"`
	Evaluated   bool     `json:"evaluated"`
	SubEntities []Entity `json:"subEntities"`
	New         bool     `json:"new"`
}

// UserRequest is one parsed inbound user request. Immutable after parsing.
type UserRequest struct {
	Intent   string         `json:"intent,omitempty"`
	Entities []Entity       `json:"entities"`
	Message  UserMessage    `json:"message"`
	StoryID  string         `json:"storyId"`
	Step     string         `json:"step,omitempty"`
	Context  RequestContext `json:"context"`
}

// BotRequest is the inbound wire envelope.
type BotRequest struct {
	RequestID   string      `json:"requestId"`
	UserRequest UserRequest `json:"botRequest"`
}

// ResponseContext stamps an outbound response with the moment it was
// assembled and the request it answers.
type ResponseContext struct {
	Date      time.Time `json:"date"`
	RequestID string    `json:"requestId"`
}

// ResponsePayload is the body of an outbound response frame.
type ResponsePayload struct {
	Messages []Message `json:"messages"`
	StoryID  string    `json:"storyId"`
	// Step is not populated by the dispatch engine; it is emitted only when
	// the caller assembling the response sets it.
	Step     string          `json:"step,omitempty"`
	Entities []Entity        `json:"entities"`
	Context  ResponseContext `json:"context"`
}

// BotResponse is the outbound wire envelope.
type BotResponse struct {
	RequestID   string          `json:"requestId"`
	BotResponse ResponsePayload `json:"botResponse"`
}
