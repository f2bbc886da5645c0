package engine

// Action is a scan action requested by a volunteer operator.
type Action string

const (
	// ActionEntry checks an attendee in to an event.
	ActionEntry Action = "entry"
	// ActionFood records a food serving for a checked-in attendee.
	ActionFood Action = "food"
)

// Status classifies a verdict for the scanner UI and HTTP status mapping.
type Status string

const (
	// StatusSuccess is a completed, state-mutating scan.
	StatusSuccess Status = "success"
	// StatusWarning is an informational repeat scan; nothing was mutated.
	StatusWarning Status = "warning"
	// StatusDenied is an expected policy denial.
	StatusDenied Status = "denied"
	// StatusError is operator misuse or a data-integrity problem.
	StatusError Status = "error"
)

// Request is one scan submitted by the routing layer. CheckedInBy is the
// authenticated operator identity, supplied explicitly rather than read from
// ambient state.
type Request struct {
	EventID     string
	QRPayload   string
	Action      Action
	CheckedInBy string
}

// Verdict is the structured result of one scan. Message is always populated
// and displayable as-is.
type Verdict struct {
	Allowed         bool   `json:"allowed"`
	Status          Status `json:"status"`
	Message         string `json:"message"`
	AttendeeName    string `json:"attendeeName,omitempty"`
	AttendeeEmail   string `json:"attendeeEmail,omitempty"`
	Duplicate       bool   `json:"duplicate,omitempty"`
	FoodServedCount int    `json:"foodServedCount,omitempty"`
	MaxFoodServings int    `json:"maxFoodServings,omitempty"`
	WaitMinutes     int    `json:"waitMinutes,omitempty"`
}

func errorVerdict(message string) Verdict {
	return Verdict{Status: StatusError, Message: message}
}
