package acceptor

import "net/http"

// Response is a complete response: status, headers and a body that is
// written with an exact Content-Length.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse creates a Response with an empty header set.
func NewResponse(status int, body []byte) *Response {
	return &Response{
		Status: status,
		Header: make(http.Header),
		Body:   body,
	}
}

// Empty creates a bodiless Response.
func Empty(status int) *Response {
	return NewResponse(status, nil)
}
