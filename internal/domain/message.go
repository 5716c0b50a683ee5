package domain

import "time"

// Message is a persisted chat message. Timestamp is assigned by the server
// when the message is accepted; TranslatedMessage is reserved and always
// stored empty.
type Message struct {
	ID                string    `json:"message_id"`
	Room              string    `json:"room"`
	Sender            string    `json:"sender"`
	Body              string    `json:"message"`
	TranslatedMessage string    `json:"translated_message"`
	Timestamp         time.Time `json:"timestamp"`
}
