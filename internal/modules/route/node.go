// README: Route node tokens and their persisted "P42"/"D42" encoding.
package route

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrInvalidToken = errors.New("invalid route node token")

type Kind byte

const (
	Pickup  Kind = 'P'
	Dropoff Kind = 'D'
)

func (k Kind) String() string {
	switch k {
	case Pickup:
		return "pickup"
	case Dropoff:
		return "dropoff"
	default:
		return "unknown"
	}
}

// Node is one stop of a driver's route.
type Node struct {
	Kind    Kind
	OrderID int64
}

func PickupOf(orderID int64) Node  { return Node{Kind: Pickup, OrderID: orderID} }
func DropoffOf(orderID int64) Node { return Node{Kind: Dropoff, OrderID: orderID} }

// String is the persisted token form. It is the only place a Node is encoded.
func (n Node) String() string {
	return string(rune(n.Kind)) + strconv.FormatInt(n.OrderID, 10)
}

// ParseNode decodes a token matching ^(P|D)\d+$.
func ParseNode(s string) (Node, error) {
	if len(s) < 2 {
		return Node{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	kind := Kind(s[0])
	if kind != Pickup && kind != Dropoff {
		return Node{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	digits := s[1:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Node{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %q: %v", ErrInvalidToken, s, err)
	}
	return Node{Kind: kind, OrderID: id}, nil
}

// ParseNodes decodes a stored route. Empty-string placeholders are dropped.
func ParseNodes(tokens []string) ([]Node, error) {
	out := make([]Node, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		n, err := ParseNode(t)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func EncodeNodes(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.String()
	}
	return out
}
