package model

type EventType string

const (
	TypeMessage      EventType = "message"
	TypeTyping       EventType = "typing"
	TypePresence     EventType = "presence"
	TypeReadReceipt  EventType = "read_receipt"
	TypeConversation EventType = "conversation"
	TypeUser         EventType = "user"
)
