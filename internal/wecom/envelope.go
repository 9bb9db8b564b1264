package wecom

import (
	"encoding/xml"
	"fmt"
)

// EncryptedBody is the outer XML a callback POST carries; only Encrypt is
// authenticated and decrypted.
type EncryptedBody struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	AgentID    string   `xml:"AgentID"`
	Encrypt    string   `xml:"Encrypt"`
}

// Envelope is the decrypted callback message. The field set covers every
// message type the processor handles; unused fields stay empty.
type Envelope struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	MsgID        string   `xml:"MsgId"`
	AgentID      int64    `xml:"AgentID"`

	// text
	Content string `xml:"Content"`

	// image / voice / video / file
	MediaID      string `xml:"MediaId"`
	PicURL       string `xml:"PicUrl"`
	Recognition  string `xml:"Recognition"` // WeCom's own voice transcription, when present
	ThumbMediaID string `xml:"ThumbMediaId"`
	FileName     string `xml:"FileName"`
	FileSize     int64  `xml:"FileSize"`

	// location
	LocationX float64 `xml:"Location_X"`
	LocationY float64 `xml:"Location_Y"`
	Scale     int     `xml:"Scale"`
	Label     string  `xml:"Label"`

	// link share (Title/Description/Url)
	Title       string `xml:"Title"`
	Description string `xml:"Description"`
	URL         string `xml:"Url"`

	// group chats carry a ChatId; direct messages do not
	ChatID string `xml:"ChatId"`
}

// IsGroupChat reports whether the message came from a group conversation.
func (e *Envelope) IsGroupChat() bool { return e.ChatID != "" }

// ParseEncryptedBody extracts the Encrypt element from a raw callback body.
func ParseEncryptedBody(raw []byte) (*EncryptedBody, error) {
	var body EncryptedBody
	if err := xml.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("wecom: parse callback body: %w", err)
	}
	return &body, nil
}

// ParseEnvelope parses a decrypted callback message.
func ParseEnvelope(decrypted string) (*Envelope, error) {
	var env Envelope
	if err := xml.Unmarshal([]byte(decrypted), &env); err != nil {
		return nil, fmt.Errorf("wecom: parse envelope: %w", err)
	}
	return &env, nil
}
