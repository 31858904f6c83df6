package failures

import "time"

// Record is the persisted form of a classified failure attached to a project stage.
type Record struct {
	Stage           string     `json:"stage"`
	Category        Category   `json:"category"`
	Code            Code       `json:"code"`
	Message         string     `json:"message"`
	TechnicalDetail string     `json:"technical_detail"`
	Suggestion      string     `json:"suggestion"`
	RetryAfter      *time.Time `json:"retry_after,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// NewRecord converts the error into a Record for the stage.
func NewRecord(stage string, err error, occurredAt time.Time) Record {
	classifiedError := Classify(err)
	if classifiedError == nil {
		classifiedError = New(CodeUnknown, "", nil)
	}
	return Record{
		Stage:           stage,
		Category:        classifiedError.Category,
		Code:            classifiedError.Code,
		Message:         classifiedError.Message,
		TechnicalDetail: classifiedError.TechnicalDetail,
		Suggestion:      classifiedError.Suggestion,
		RetryAfter:      classifiedError.RetryAfter,
		OccurredAt:      occurredAt,
	}
}

// Retryable reports whether the recorded failure may be retried automatically.
func (record Record) Retryable() bool {
	return IsRetryableCategory(record.Category)
}
