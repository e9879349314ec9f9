package connector

import "gotock/pkg/tock"

// WebConnectorTypeID is the connector type the platform assigns to its web
// widget channel.
const WebConnectorTypeID = "web"

// Web returns the render strategy for the web channel: plain text becomes a
// translatable sentence carrying the quick replies, structured messages pass
// through unchanged.
func Web() Config {
	return Config{
		ConnectorTypeID: WebConnectorTypeID,
		Factory: func(*tock.BotRequest) Renderer {
			return webRenderer{}
		},
	}
}

type webRenderer struct{}

func (webRenderer) Render(in Input, quickReplies ...tock.Suggestion) (tock.Message, bool) {
	if !in.IsText() {
		return in.Message, true
	}
	return tock.NewSentence(in.Text, quickReplies...), true
}
