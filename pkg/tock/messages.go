package tock

import "encoding/json"

// Message is one outbound bot message as the platform understands it:
// a sentence, a card, a carousel, or a connector-specific custom payload.
type Message interface {
	messageType() string
}

// I18nText is a translatable label. Text created from a plain string is
// tagged for server-side translation.
type I18nText struct {
	Text           string   `json:"text"`
	Args           []string `json:"args"`
	ToBeTranslated bool     `json:"toBeTranslated"`
	Key            string   `json:"key,omitempty"`
}

// NewI18nText wraps raw text for translation, keeping the original verbatim.
func NewI18nText(text string) I18nText {
	return I18nText{
		Text:           text,
		Args:           []string{},
		ToBeTranslated: true,
	}
}

// Suggestion is a quick-reply proposal attached to a sentence.
type Suggestion struct {
	Title I18nText `json:"title"`
}

// NewSuggestion builds a quick-reply suggestion from plain text.
func NewSuggestion(title string) Suggestion {
	return Suggestion{Title: NewI18nText(title)}
}

// Action is a tappable button on a card.
type Action struct {
	Title I18nText `json:"title"`
	URL   string   `json:"url,omitempty"`
}

// AttachmentType identifies the media kind of a card attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is a media reference carried by a card.
type Attachment struct {
	URL  string         `json:"url"`
	Type AttachmentType `json:"type"`
}

// Sentence is a plain text bot message with optional quick replies.
type Sentence struct {
	Text        I18nText     `json:"text"`
	Suggestions []Suggestion `json:"suggestions"`
	Delay       int64        `json:"delay"`
}

func (Sentence) messageType() string { return "sentence" }

// MarshalJSON stamps the wire type tag so a hand-built Sentence still
// serializes as one.
func (s Sentence) MarshalJSON() ([]byte, error) {
	type alias Sentence
	return json.Marshal(struct {
		alias
		Type string `json:"type"`
	}{alias(s), s.messageType()})
}

// Card is a rich message with a title, optional media and actions.
type Card struct {
	Title      *I18nText   `json:"title,omitempty"`
	SubTitle   *I18nText   `json:"subTitle,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Actions    []Action    `json:"actions"`
	Delay      int64       `json:"delay"`
}

func (Card) messageType() string { return "card" }

func (c Card) MarshalJSON() ([]byte, error) {
	type alias Card
	return json.Marshal(struct {
		alias
		Type string `json:"type"`
	}{alias(c), c.messageType()})
}

// Carousel groups several cards into one horizontally scrollable message.
type Carousel struct {
	Cards []Card `json:"cards"`
	Delay int64  `json:"delay"`
}

func (Carousel) messageType() string { return "carousel" }

func (c Carousel) MarshalJSON() ([]byte, error) {
	type alias Carousel
	return json.Marshal(struct {
		alias
		Type string `json:"type"`
	}{alias(c), c.messageType()})
}

// Custom is an opaque connector-specific payload. The payload is emitted
// verbatim, so it must carry its own type tag.
type Custom struct {
	Payload json.RawMessage
}

func (Custom) messageType() string { return "custom" }

func (c Custom) MarshalJSON() ([]byte, error) {
	if len(c.Payload) == 0 {
		return []byte("{}"), nil
	}
	return c.Payload, nil
}

// NewSentence builds a sentence message from plain text and quick replies.
func NewSentence(text string, suggestions ...Suggestion) Sentence {
	if suggestions == nil {
		suggestions = []Suggestion{}
	}
	return Sentence{
		Text:        NewI18nText(text),
		Suggestions: suggestions,
	}
}

// ImageCard builds a card carrying an image attachment.
func ImageCard(title, imageURL, subTitle string, actions ...Action) Card {
	return attachmentCard(title, subTitle, imageURL, AttachmentImage, actions)
}

// VideoCard builds a card carrying a video attachment.
func VideoCard(title, videoURL, subTitle string, actions ...Action) Card {
	return attachmentCard(title, subTitle, videoURL, AttachmentVideo, actions)
}

// AudioCard builds a card carrying an audio attachment.
func AudioCard(title, audioURL, subTitle string, actions ...Action) Card {
	return attachmentCard(title, subTitle, audioURL, AttachmentAudio, actions)
}

// FileCard builds a card carrying a file attachment.
func FileCard(title, fileURL, subTitle string, actions ...Action) Card {
	return attachmentCard(title, subTitle, fileURL, AttachmentFile, actions)
}

func attachmentCard(title, subTitle, url string, kind AttachmentType, actions []Action) Card {
	if actions == nil {
		actions = []Action{}
	}
	cardTitle := NewI18nText(title)
	cardSubTitle := NewI18nText(subTitle)
	return Card{
		Title:      &cardTitle,
		SubTitle:   &cardSubTitle,
		Attachment: &Attachment{URL: url, Type: kind},
		Actions:    actions,
	}
}
