package eventbus

import "time"

const (
	TypeTickFired   = "clock.tick_fired"
	TypeBroadcast   = "bong.broadcast"
	TypeDelivery    = "bong.delivery"
	TypeResponse    = "bong.response"
	TypeLedgerError = "bong.ledger_error"
)

// TickFired is published when the clock detects a new hour.
type TickFired struct {
	Hour int       `json:"hour"`
	At   time.Time `json:"at"`
}

// Broadcast summarizes one completed fan-out.
type Broadcast struct {
	CycleID  string        `json:"cycle_id"`
	Source   string        `json:"source"`
	Scoped   bool          `json:"scoped"`
	Total    int           `json:"total"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Disabled int           `json:"disabled"`
	Took     time.Duration `json:"took"`
	// Open is the number of winnable messages after the broadcast.
	Open int `json:"open"`
}

// Delivery results.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliveryGone    = "gone"
	DeliveryTimeout = "timeout"
)

// Delivery reports one recipient's send.
type Delivery struct {
	CycleID string `json:"cycle_id"`
	ChatID  int64  `json:"chat_id"`
	Result  string `json:"result"`
	Error   string `json:"error,omitempty"`
}

// Response reports one resolved button press.
type Response struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int    `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Outcome   string `json:"outcome"`
	// Reaction is set for winning presses only.
	Reaction time.Duration `json:"reaction,omitempty"`
	// Open is the number of still-open messages after this press.
	Open int `json:"open"`
}

// LedgerError reports a failed win write. The win itself stands.
type LedgerError struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int    `json:"message_id"`
	Error     string `json:"error"`
}
