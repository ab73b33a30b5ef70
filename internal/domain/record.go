package domain

// TurnType is the semantic role of an incoming message.
type TurnType string

const (
	TurnText   TurnType = "text"
	TurnSelect TurnType = "select"
	TurnReason TurnType = "reason"
)

// Classification is the outcome of classifying one inbound message.
type Classification struct {
	Type     TurnType
	Question string
	Answer   string
}

// OutboundRecord is the payload sent to the remote log/feedback store.
type OutboundRecord struct {
	UserID   string   `json:"user_id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Type     TurnType `json:"type"`
}

const (
	StoreStatusSuccess = "success"
	StoreStatusError   = "error"
)

// StoreResponse is the structured reply of the remote log/feedback store.
type StoreResponse struct {
	Status       string `json:"status"`
	Feedback     string `json:"feedback,omitempty"`
	Message      string `json:"message,omitempty"`
	ElicitReason bool   `json:"elicit_reason,omitempty"`
}

// OK reports whether the store accepted the record.
func (r StoreResponse) OK() bool {
	return r.Status == StoreStatusSuccess
}
