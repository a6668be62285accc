package domain

import "time"

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Source records which provider produced an outbound answer. Restart
// exchanges carry no source.
type Source string

const (
	SourceNone          Source = ""
	SourceKnowledgeBase Source = "knowledge-base"
	SourceGeneralModel  Source = "general-model"
)

// InboundMessage is a normalized user message received on a channel.
type InboundMessage struct {
	Sender                     string
	Channel                    Channel
	Body                       string
	MessageID                  string
	PreviousPublishedMessageID string
	ReceivedAt                 time.Time
}

// Turn is a single persisted conversation record. Turns are append-only.
type Turn struct {
	Sender                     string
	MessageID                  string
	Channel                    Channel
	Direction                  Direction
	Text                       string
	Timestamp                  int64 // unix milliseconds
	OriginationNumberID        string
	PreviousPublishedMessageID string
	SessionID                  string
	Source                     Source
	KnowledgeBaseID            string
	TTL                        int64 // unix seconds
}
