package orders

import "fmt"

type Status string

const (
	StatusInProcess Status = "in_process"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
)

// Urutan lifecycle; index lebih besar = lebih lanjut.
var statusOrder = []Status{StatusInProcess, StatusSent, StatusDelivered}

var validNext = map[Status]map[Status]bool{
	StatusInProcess: {StatusSent: true, StatusDelivered: true},
	StatusSent:      {StatusDelivered: true},
	StatusDelivered: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// ParseStatus maps a client string to a Status; empty means the default.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return StatusInProcess, nil
	}
	st := Status(s)
	if !st.Valid() {
		return "", InvalidArgument(fmt.Sprintf("unknown order status %q", s))
	}
	return st, nil
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// TransitionPolicy decides whether an order may move from one status to another.
type TransitionPolicy func(from, to Status) error

// ForwardOnly rejects anything not strictly later in the lifecycle.
func ForwardOnly(from, to Status) error {
	if !CanTransition(from, to) {
		return InvalidTransition(from, to)
	}
	return nil
}

// AllowCorrections accepts any known status, including moving backwards.
func AllowCorrections(from, to Status) error {
	if !to.Valid() {
		return InvalidTransition(from, to)
	}
	return nil
}

func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}
