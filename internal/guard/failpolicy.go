package guard

import "fmt"

// FailPolicy decides what happens to a request whose window could not be
// counted because the counter store failed.
type FailPolicy int

const (
	// FailOpen admits the request.
	FailOpen FailPolicy = iota
	// FailClosed rejects the request with 503.
	FailClosed
)

func (p FailPolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

func ParseFailPolicy(s string) (FailPolicy, error) {
	switch s {
	case "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("unknown fail policy %q (valid: open|closed)", s)
}
