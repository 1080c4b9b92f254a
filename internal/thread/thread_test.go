package thread

import (
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/sift/internal/message"
)

func rec(channel, ts, parent, text string) message.Record {
	r := message.Record{
		ChannelID: channel,
		TS:        message.TS(ts),
		ParentTS:  message.TS(parent),
		Text:      text,
	}
	if parent == "" {
		r.ParentTS = r.TS
	}
	r.IsThreadReply = r.ParentTS != r.TS
	return r
}

func TestGroup_PartitionsByChannelAndThread(t *testing.T) {
	records := []message.Record{
		rec("C2", "200.0", "", "c2 root"),
		rec("C1", "100.0", "", "c1 root a"),
		rec("C1", "101.0", "100.0", "c1 reply a"),
		rec("C1", "90.0", "", "c1 root b"),
		rec("C2", "201.0", "200.0", "c2 reply"),
	}

	g := Group(records)

	if g.Len() != 3 {
		t.Fatalf("expected 3 threads, got %d", g.Len())
	}
	if g.MessageCount() != len(records) {
		t.Errorf("message count = %d, want %d", g.MessageCount(), len(records))
	}

	chans := g.Channels()
	if len(chans) != 2 || chans[0].ID != "C2" || chans[1].ID != "C1" {
		t.Fatalf("channel order = %+v, want first-appearance order C2, C1", chans)
	}

	// Threads within a channel are ordered by root timestamp.
	c1 := chans[1]
	if c1.Threads[0].RootTS != "90.0" || c1.Threads[1].RootTS != "100.0" {
		t.Errorf("C1 thread order = %s, %s", c1.Threads[0].RootTS, c1.Threads[1].RootTS)
	}

	th, ok := g.Thread("C1", "100.0")
	if !ok {
		t.Fatal("thread C1/100.0 not found")
	}
	if len(th.Messages) != 2 || th.Messages[1].Text != "c1 reply a" {
		t.Errorf("unexpected thread %+v", th)
	}

	if _, ok := g.Thread("C1", "101.0"); ok {
		t.Error("a reply must not create its own thread")
	}
}

func TestGroup_OrdersByTimestampStable(t *testing.T) {
	records := []message.Record{
		rec("C1", "100.000003", "100.000001", "third"),
		rec("C1", "100.000001", "", "root"),
		rec("C1", "100.000002", "100.000001", "tie first"),
		rec("C1", "100.000002", "100.000001", "tie second"),
		rec("C1", "99.9", "100.000001", "numerically earliest"),
	}

	th, ok := Group(records).Thread("C1", "100.000001")
	if !ok {
		t.Fatal("thread not found")
	}

	want := []string{"numerically earliest", "root", "tie first", "tie second", "third"}
	for i, w := range want {
		if th.Messages[i].Text != w {
			t.Errorf("position %d = %q, want %q", i, th.Messages[i].Text, w)
		}
	}

	for i := 1; i < len(th.Messages); i++ {
		if th.Messages[i].TS.Before(th.Messages[i-1].TS) {
			t.Errorf("timestamps decrease at %d", i)
		}
	}
}

func TestGroup_RootJoinsExistingThread(t *testing.T) {
	// A reply that arrives before its root still shares the root's thread.
	records := []message.Record{
		rec("C1", "101.0", "100.0", "reply"),
		rec("C1", "100.0", "", "root"),
	}

	g := Group(records)
	if g.Len() != 1 {
		t.Fatalf("expected 1 thread, got %d", g.Len())
	}
	th := g.Threads()[0]
	if th.Messages[0].Text != "root" {
		t.Errorf("first message = %q, want root", th.Messages[0].Text)
	}
}

func TestGroup_SameTimestampDifferentChannels(t *testing.T) {
	records := []message.Record{
		rec("C1", "100.0", "", "one"),
		rec("C2", "100.0", "", "two"),
	}
	if n := Group(records).Len(); n != 2 {
		t.Errorf("expected 2 threads, got %d", n)
	}
}

func TestGroup_Empty(t *testing.T) {
	g := Group(nil)
	if g.Len() != 0 || len(g.Channels()) != 0 || g.MessageCount() != 0 {
		t.Error("expected empty grouping")
	}
}

func TestGroup_ChannelNameCarried(t *testing.T) {
	r := rec("C1", "100.0", "", "hi")
	r.ChannelName = "general"
	g := Group([]message.Record{r})
	if g.Channels()[0].Name != "general" || g.Threads()[0].ChannelName != "general" {
		t.Error("channel name not carried onto grouping")
	}
}

func TestGroup_AccessorsReturnCopies(t *testing.T) {
	root := rec("C1", "100.0", "", "root")
	root.Reactions = []message.Reaction{{Name: "eyes", Count: 1}}
	g := Group([]message.Record{root, rec("C1", "101.0", "100.0", "reply")})

	threads := g.Threads()
	threads[0].Messages[0].Text = "changed"
	threads[0].Messages[0].Reactions[0].Count = 99

	th, _ := g.Thread("C1", "100.0")
	th.Messages[1].Text = "changed too"

	g.Channels()[0].Threads[0].Messages[0].Text = "changed again"

	got, ok := g.Thread("C1", "100.0")
	if !ok {
		t.Fatal("thread missing")
	}
	if got.Messages[0].Text != "root" || got.Messages[1].Text != "reply" {
		t.Errorf("grouped view was modified: %q, %q", got.Messages[0].Text, got.Messages[1].Text)
	}
	if got.Messages[0].Reactions[0].Count != 1 {
		t.Errorf("reactions were modified: %+v", got.Messages[0].Reactions)
	}
	if g.Threads()[0].Messages[0].Text != "root" {
		t.Error("Threads exposes the grouped view")
	}
}

func TestContext_FirstMessageUnchanged(t *testing.T) {
	var c Context
	if got := c.Augment("hello"); got != "hello" {
		t.Errorf("Augment = %q, want %q", got, "hello")
	}
}

func TestContexts_Monotonic(t *testing.T) {
	th := Thread{Messages: []message.Record{
		{Text: "the build is red"},
		{Text: ""},
		{Text: "yes, fix that"},
		{Text: "done"},
	}}

	ctxs := Contexts(th)
	if ctxs[0] != "the build is red" {
		t.Errorf("ctx[0] = %q", ctxs[0])
	}
	for i := 1; i < len(ctxs); i++ {
		want := ctxs[i-1] + "\n" + th.Messages[i].Text
		if ctxs[i] != want {
			t.Errorf("ctx[%d] = %q, want %q", i, ctxs[i], want)
		}
		if !strings.HasPrefix(ctxs[i], ctxs[i-1]) {
			t.Errorf("ctx[%d] does not extend ctx[%d]", i, i-1)
		}
	}
	if ctxs[3] != "the build is red\n\nyes, fix that\ndone" {
		t.Errorf("ctx[3] = %q", ctxs[3])
	}
}
