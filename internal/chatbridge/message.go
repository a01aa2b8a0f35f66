package chatbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Channel identifies where a chat message was posted.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Author identifies who posted a chat message. AvatarHash is nil for users
// without a custom avatar.
type Author struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	AvatarHash *string `json:"avatarHash"`
}

// Message is a validated chat message as forwarded to dashboards.
type Message struct {
	ID          string    `json:"id"`
	Channel     Channel   `json:"channel"`
	Author      Author    `json:"author"`
	Timestamp   time.Time `json:"timestamp"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments"`
}

// wireMessage mirrors Message with every field optional so missing fields
// can be told apart from zero values.
type wireMessage struct {
	ID      *string `json:"id"`
	Channel *struct {
		ID   *string `json:"id"`
		Name *string `json:"name"`
	} `json:"channel"`
	Author *struct {
		ID         *string         `json:"id"`
		Name       *string         `json:"name"`
		AvatarHash json.RawMessage `json:"avatarHash"`
	} `json:"author"`
	Timestamp   *string   `json:"timestamp"`
	Content     *string   `json:"content"`
	Attachments *[]string `json:"attachments"`
}

var errMissingField = errors.New("missing field")

// ParseMessage validates a bot frame as a chat message. Attachments default
// to an empty list; the timestamp must be RFC 3339 with an offset and is
// normalised to UTC.
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("decoding chat message: %w", err)
	}

	switch {
	case w.ID == nil:
		return Message{}, fmt.Errorf("id: %w", errMissingField)
	case w.Channel == nil || w.Channel.ID == nil || w.Channel.Name == nil:
		return Message{}, fmt.Errorf("channel: %w", errMissingField)
	case w.Author == nil || w.Author.ID == nil || w.Author.Name == nil:
		return Message{}, fmt.Errorf("author: %w", errMissingField)
	case len(w.Author.AvatarHash) == 0:
		return Message{}, fmt.Errorf("author.avatarHash: %w", errMissingField)
	case w.Timestamp == nil:
		return Message{}, fmt.Errorf("timestamp: %w", errMissingField)
	case w.Content == nil:
		return Message{}, fmt.Errorf("content: %w", errMissingField)
	}

	var avatar *string
	if !bytes.Equal(w.Author.AvatarHash, []byte("null")) {
		var s string
		if err := json.Unmarshal(w.Author.AvatarHash, &s); err != nil {
			return Message{}, fmt.Errorf("author.avatarHash: %w", err)
		}
		avatar = &s
	}

	ts, err := time.Parse(time.RFC3339Nano, *w.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("timestamp: %w", err)
	}

	attachments := []string{}
	if w.Attachments != nil && *w.Attachments != nil {
		attachments = *w.Attachments
	}

	return Message{
		ID:      *w.ID,
		Channel: Channel{ID: *w.Channel.ID, Name: *w.Channel.Name},
		Author: Author{
			ID:         *w.Author.ID,
			Name:       *w.Author.Name,
			AvatarHash: avatar,
		},
		Timestamp:   ts.UTC(),
		Content:     *w.Content,
		Attachments: attachments,
	}, nil
}

// authRequest is the only frame accepted from a bot before it is verified.
type authRequest struct {
	Token *string `json:"token"`
}

func parseAuth(data []byte) (string, bool) {
	var req authRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Token == nil {
		return "", false
	}
	return *req.Token, true
}

// authReply is sent to a bot after its token was checked.
type authReply struct {
	Auth string `json:"auth"`
}

var (
	authComplete = mustEncode(authReply{Auth: "complete"})
	authRejected = mustEncode(authReply{Auth: "rejected"})
)

func mustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
