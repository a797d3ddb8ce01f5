package domain

// ErrorCode classifies why a task failed. Codes are stable and safe to expose;
// they let operators tell prompt or schema bugs apart from backend outages.
type ErrorCode string

// Failure codes
const (
	ErrorCodeLoad              ErrorCode = "load_error"
	ErrorCodeMalformedOutput   ErrorCode = "malformed_output"
	ErrorCodeContentPolicy     ErrorCode = "content_policy"
	ErrorCodeGenerationFailed  ErrorCode = "generation_failed"
	ErrorCodeAttemptsExhausted ErrorCode = "attempts_exhausted"
)

// failureMessages are the only error texts ever persisted on a task.
var failureMessages = map[ErrorCode]string{
	ErrorCodeLoad:              "could not load the content for this task",
	ErrorCodeMalformedOutput:   "could not generate content in the expected format",
	ErrorCodeContentPolicy:     "the content could not be processed because it was rejected by the provider's content policy",
	ErrorCodeGenerationFailed:  "could not generate content for this task",
	ErrorCodeAttemptsExhausted: "could not generate content for this task",
}

// FailureMessage returns the user-safe message for code. Unknown codes get the
// generic generation message.
func FailureMessage(code ErrorCode) string {
	if msg, ok := failureMessages[code]; ok {
		return msg
	}
	return failureMessages[ErrorCodeGenerationFailed]
}

// TaskFailure is the sanitized error recorded on a FAILED task.
type TaskFailure struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewTaskFailure builds the failure for code using its fixed message.
func NewTaskFailure(code ErrorCode) TaskFailure {
	return TaskFailure{Code: code, Message: FailureMessage(code)}
}
