package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Kakao        KakaoConfig        `json:"kakao"`
	MessengerBot MessengerBotConfig `json:"messenger_bot"`
}

type KakaoConfig struct {
	BotID            string `json:"bot_id,omitempty"`
	BotName          string `json:"bot_name,omitempty"`
	MaxMessageLength int    `json:"max_message_length,omitempty"` // default 1000 runes
	SpamFilter       *bool  `json:"spam_filter,omitempty"`        // reject URLs / phone numbers (default true)
	TestEndpoint     *bool  `json:"test_endpoint,omitempty"`      // expose POST /webhook/test (default: development only)
}

// SpamFilterEnabled defaults to true.
func (k KakaoConfig) SpamFilterEnabled() bool {
	return k.SpamFilter == nil || *k.SpamFilter
}

type MessengerBotConfig struct {
	Enabled      bool   `json:"enabled"`
	SummaryLines int    `json:"summary_lines,omitempty"` // default 3
	MaxTokens    int    `json:"max_tokens,omitempty"`    // default 200
	Model        string `json:"model,omitempty"`         // default: provider model
}
