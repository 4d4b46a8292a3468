package document

type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Sender ids reserved for the two bot participants.
const (
	BotUserID     = "bot"
	PoemBotUserID = "poemBot"

	BotUsername     = "AI助手"
	PoemBotUsername = "诗词机器人"
)

const (
	MessageTypeUser = "user"
	MessageTypeBot  = "bot"
)

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password,omitempty"`
	Role         Role   `json:"role"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// Identity is what the rest of the system sees of an authenticated user.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Message struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Username  string      `json:"username"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	Type      string      `json:"type"`
	Tokens    *TokenUsage `json:"tokens,omitempty"`
}

type PresenceEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping,omitempty"`
}

// Document is the aggregate persisted as a single blob.
type Document struct {
	Users       []User          `json:"users"`
	Messages    []Message       `json:"messages"`
	OnlineUsers []PresenceEntry `json:"onlineUsers"`
}

func New() Document {
	return Document{
		Users:       []User{},
		Messages:    []Message{},
		OnlineUsers: []PresenceEntry{},
	}
}

type BotConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"maxTokens"`
	TopP             float64 `json:"topP"`
	FrequencyPenalty float64 `json:"frequencyPenalty"`
	PresencePenalty  float64 `json:"presencePenalty"`
	SystemPrompt     string  `json:"systemPrompt"`
}

func DefaultBotConfig() BotConfig {
	return BotConfig{
		Temperature:      0.7,
		MaxTokens:        1500,
		TopP:             0.9,
		FrequencyPenalty: 0.5,
		PresencePenalty:  0.5,
		SystemPrompt:     "你是一个专业的AI助手，请用简洁明了的语言回答用户的问题。回答要准确、专业，同时保持友好和易于理解。如果遇到不确定的问题，请诚实地告诉用户。",
	}
}
