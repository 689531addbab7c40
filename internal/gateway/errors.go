package gateway

// Error codes answered by the gateway
const (
	CodeInvalidMethod    = 22
	CodeInvalidSignature = 25
	CodeInvalidAppKey    = 29
	CodeRemoteError      = 15
)

// Error is an error_response answer.
type Error struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	SubCode string `json:"sub_code,omitempty"`
	SubMsg  string `json:"sub_msg,omitempty"`
}

func (e *Error) Error() string {
	return e.Msg
}

var (
	errInvalidAppKey    = &Error{Code: CodeInvalidAppKey, Msg: "Invalid app Key"}
	errInvalidSignature = &Error{Code: CodeInvalidSignature, Msg: "Invalid signature"}
	errInvalidMethod    = &Error{Code: CodeInvalidMethod, Msg: "Invalid method"}
)
