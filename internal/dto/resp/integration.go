package resp

// ErrorResp is the body of every non-2xx response.
type ErrorResp struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}
