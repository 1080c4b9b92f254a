// Package thread groups messages into conversations and builds the running
// context each message is scored with.
package thread

import (
	"slices"
	"sort"

	"github.com/MikeSquared-Agency/sift/internal/message"
)

// Thread is the ordered conversation rooted at RootTS in one channel.
type Thread struct {
	ChannelID   string
	ChannelName string
	RootTS      message.TS
	Messages    []message.Record // ascending TS, ties in input order
}

// Channel holds the threads of one channel, ordered by root timestamp.
type Channel struct {
	ID      string
	Name    string
	Threads []Thread
}

// Grouped is the result of Group. It is built once and read-only afterwards;
// accessors hand out copies, so callers may modify what they get.
type Grouped struct {
	channels []Channel
	index    map[key]int // thread key -> position in flat order
	flat     []Thread
}

type key struct {
	channel string
	root    message.TS
}

// Group partitions records by channel and then by thread root. Channels keep
// the order in which they first appear in records; threads within a channel
// are ordered by root timestamp. No record is dropped.
func Group(records []message.Record) *Grouped {
	type building struct {
		ch      Channel
		threads map[message.TS]int
	}

	var order []string
	byChannel := make(map[string]*building)

	for _, rec := range records {
		b, ok := byChannel[rec.ChannelID]
		if !ok {
			b = &building{
				ch:      Channel{ID: rec.ChannelID},
				threads: make(map[message.TS]int),
			}
			byChannel[rec.ChannelID] = b
			order = append(order, rec.ChannelID)
		}
		if b.ch.Name == "" {
			b.ch.Name = rec.ChannelName
		}

		idx, ok := b.threads[rec.ParentTS]
		if !ok {
			idx = len(b.ch.Threads)
			b.threads[rec.ParentTS] = idx
			b.ch.Threads = append(b.ch.Threads, Thread{
				ChannelID: rec.ChannelID,
				RootTS:    rec.ParentTS,
			})
		}
		b.ch.Threads[idx].Messages = append(b.ch.Threads[idx].Messages, rec)
	}

	g := &Grouped{index: make(map[key]int)}
	for _, id := range order {
		ch := byChannel[id].ch
		sort.SliceStable(ch.Threads, func(i, j int) bool {
			return ch.Threads[i].RootTS.Before(ch.Threads[j].RootTS)
		})
		for i := range ch.Threads {
			th := &ch.Threads[i]
			th.ChannelName = ch.Name
			sort.SliceStable(th.Messages, func(a, b int) bool {
				return th.Messages[a].TS.Before(th.Messages[b].TS)
			})
			g.index[key{ch.ID, th.RootTS}] = len(g.flat)
			g.flat = append(g.flat, *th)
		}
		g.channels = append(g.channels, ch)
	}
	return g
}

// Channels returns the channels in iteration order.
func (g *Grouped) Channels() []Channel {
	out := make([]Channel, len(g.channels))
	for i, ch := range g.channels {
		ch.Threads = cloneThreads(ch.Threads)
		out[i] = ch
	}
	return out
}

// Threads returns every thread, channel by channel, in iteration order.
func (g *Grouped) Threads() []Thread {
	return cloneThreads(g.flat)
}

// Thread looks up a thread by channel and root timestamp.
func (g *Grouped) Thread(channelID string, root message.TS) (Thread, bool) {
	idx, ok := g.index[key{channelID, root}]
	if !ok {
		return Thread{}, false
	}
	return cloneThread(g.flat[idx]), true
}

func cloneThreads(threads []Thread) []Thread {
	out := make([]Thread, len(threads))
	for i, th := range threads {
		out[i] = cloneThread(th)
	}
	return out
}

func cloneThread(th Thread) Thread {
	th.Messages = slices.Clone(th.Messages)
	for i := range th.Messages {
		th.Messages[i].Reactions = slices.Clone(th.Messages[i].Reactions)
	}
	return th
}

// Len returns the number of threads.
func (g *Grouped) Len() int { return len(g.flat) }

// MessageCount returns the number of grouped messages.
func (g *Grouped) MessageCount() int {
	n := 0
	for _, th := range g.flat {
		n += len(th.Messages)
	}
	return n
}
