package broker

import (
	"context"
	"errors"
	"fmt"
)

// Composite sends each destination to the transport registered for it and
// everything else to a fallback. Dead-letter names follow the owning
// transport.
type Composite struct {
	fallback Transport
	routes   map[string]Transport
	dlq      map[string]Transport
}

func NewComposite(fallback Transport) *Composite {
	return &Composite{fallback: fallback, routes: map[string]Transport{}, dlq: map[string]Transport{}}
}

// Route binds destination (and its dead-letter destination) to t.
func (c *Composite) Route(destination string, t Transport) *Composite {
	c.routes[destination] = t
	c.dlq[t.DeadLetter(destination)] = t
	return c
}

func (c *Composite) owner(dest string) Transport {
	if t, ok := c.routes[dest]; ok {
		return t
	}
	if t, ok := c.dlq[dest]; ok {
		return t
	}
	return c.fallback
}

func (c *Composite) Publish(ctx context.Context, msg Message) error {
	return c.owner(msg.Destination).Publish(ctx, msg)
}

func (c *Composite) Subscribe(ctx context.Context, dest, group string, h Handler) error {
	return c.owner(dest).Subscribe(ctx, dest, group, h)
}

func (c *Composite) DeadLetter(dest string) string { return c.owner(dest).DeadLetter(dest) }

// Close closes every distinct transport once.
func (c *Composite) Close() error {
	seen := map[Transport]bool{}
	var errs []error
	all := append([]Transport{c.fallback}, mapValues(c.routes)...)
	for _, t := range all {
		if t == nil || seen[t] {
			continue
		}
		seen[t] = true
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	return errors.Join(errs...)
}

func mapValues(m map[string]Transport) []Transport {
	out := make([]Transport, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
