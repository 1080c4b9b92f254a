package thread

import "strings"

// Context accumulates the raw text of a thread's messages so each message can
// be scored together with everything said before it.
type Context struct {
	lines []string
}

// Augment returns the earlier messages, one per line, followed by text as the
// final line. With no earlier messages it returns text unchanged.
func (c *Context) Augment(text string) string {
	if len(c.lines) == 0 {
		return text
	}
	return strings.Join(c.lines, "\n") + "\n" + text
}

// Append adds a message's raw text to the context.
func (c *Context) Append(raw string) {
	c.lines = append(c.lines, raw)
}

// Len returns the number of messages in the context.
func (c *Context) Len() int { return len(c.lines) }

// Contexts returns the augmented text of every message in th, in order.
func Contexts(th Thread) []string {
	var c Context
	out := make([]string, len(th.Messages))
	for i, m := range th.Messages {
		out[i] = c.Augment(m.Text)
		c.Append(m.Text)
	}
	return out
}
