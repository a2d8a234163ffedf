// Package channels defines the interface and types for ERP ZEK messaging
// transports. A transport delivers user messages to the assistant and carries
// replies (text and exported documents) back to the user.
package channels

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageChars is the maximum size of a single outgoing text message.
// Longer texts are chunked into sequential sends.
const MaxMessageChars = 4000

// ChunkDelay is the pause between sequential chunk sends, so chunks arrive
// in order and the platform does not flag the bot for flooding.
const ChunkDelay = 300 * time.Millisecond

// ErrDisconnected is returned when sending through a transport that is not
// connected.
var ErrDisconnected = errors.New("channel disconnected")

// IncomingMessage is a user message received from any transport.
type IncomingMessage struct {
	// ID is the platform message identifier.
	ID string

	// Channel identifies the source transport (e.g. "telegram").
	Channel string

	// From is the platform user identifier of the sender.
	From string

	// FromName is the sender display name, if the platform provides one.
	FromName string

	// Username is the platform handle (without "@"), if any.
	Username string

	// ChatID is the conversation identifier replies should go to.
	ChatID string

	// IsGroup indicates a group conversation rather than a DM.
	IsGroup bool

	// Content is the message text.
	Content string

	Timestamp time.Time
}

// Document is a rendered artifact to deliver to a user.
type Document struct {
	// Path is the local file path of the artifact.
	Path string

	// Filename is the name shown to the recipient.
	Filename string

	// Caption is the short text accompanying the document.
	Caption string
}

// HealthStatus describes transport health for the status surfaces.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Transport is the interface every messaging channel implements.
type Transport interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Connect establishes the connection and starts receiving messages.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// SendText delivers text to a chat, chunking it when it exceeds
	// MaxMessageChars.
	SendText(ctx context.Context, to, text string) error

	// SendDocument delivers a rendered document with a caption.
	SendDocument(ctx context.Context, to string, doc Document) error

	// SendTyping shows a typing indicator while a reply is being prepared.
	SendTyping(ctx context.Context, to string) error

	// Receive returns the channel emitting incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected reports the connection state.
	IsConnected() bool

	// Health returns the transport health status.
	Health() HealthStatus
}

// SplitMessage splits text into chunks of at most limit characters, breaking
// at line boundaries where possible so formatted reports stay readable.
// It never returns an empty slice for non-empty input.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageChars
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		// Prefer the last newline inside the window; fall back to the last
		// space; otherwise hard-cut at the limit.
		if idx := strings.LastIndex(text[:limit], "\n"); idx > 0 {
			cut = idx
		} else if idx := strings.LastIndex(text[:limit], " "); idx > 0 {
			cut = idx
		} else {
			// Hard cut: back up to a rune boundary so multi-byte
			// characters are never split.
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n "))
		text = strings.TrimLeft(text[cut:], "\n ")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
