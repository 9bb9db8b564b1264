package model

import "strings"

type InternalMessage struct {
	Platform    string `json:"platform"`  // "wecom"
	AccountID   string `json:"account_id"`
	ChatType    string `json:"chat_type"` // "private", "group"
	ChatID      string `json:"chat_id"`   // Conversation ID (group chats)
	UserID      string `json:"user_id"`   // Sender ID
	Username    string `json:"username"`  // Sender Name
	Text        string `json:"text"`      // Message Content
	MsgType     string `json:"msg_type"`  // text, image, voice, video, file, location, link
	MediaPath   string `json:"media_path,omitempty"` // local path of downloaded media
	IsMentioned bool   `json:"is_mentioned"`
	MessageSid  string `json:"message_sid"`
	Timestamp   int64  `json:"timestamp"`
}

// SessionKey identifies the conversation this message belongs to. Group
// chats share one session; direct messages are keyed per user.
func (m *InternalMessage) SessionKey() string {
	peer := strings.ToLower(m.UserID)
	if m.ChatType == "group" && m.ChatID != "" {
		peer = "group:" + strings.ToLower(m.ChatID)
	}
	return m.Platform + ":" + m.AccountID + ":" + peer
}

type ReplyMessage struct {
	Platform string `json:"platform"`
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
}
