package subscription

import (
	"strings"
	"testing"
)

func newTestCommands() (*Commands, *int) {
	saves := 0
	c := &Commands{
		Store: NewStore(),
		Save:  func() error { saves++; return nil },
	}
	return c, &saves
}

func TestCommandsAddListRemove(t *testing.T) {
	c, saves := newTestCommands()

	reply := c.AddSubscription(1, 42, "red fox")
	if !strings.Contains(reply, `Added subscription: "red fox".`) {
		t.Errorf("add reply = %q", reply)
	}
	if !strings.Contains(reply, "- red fox") {
		t.Errorf("add reply missing listing: %q", reply)
	}
	if *saves != 1 {
		t.Errorf("saves = %d, want 1", *saves)
	}

	reply = c.AddSubscription(1, 42, "red fox")
	if !strings.Contains(reply, "already exists") {
		t.Errorf("duplicate add reply = %q", reply)
	}
	if *saves != 1 {
		t.Errorf("failed add persisted, saves = %d", *saves)
	}

	reply = c.RemoveSubscription(1, "red fox")
	if !strings.Contains(reply, `Removed subscription: "red fox".`) {
		t.Errorf("remove reply = %q", reply)
	}
	reply = c.RemoveSubscription(1, "red fox")
	if !strings.Contains(reply, "There is not a subscription") {
		t.Errorf("remove missing reply = %q", reply)
	}
}

func TestCommandsAddEmptyAndInvalid(t *testing.T) {
	c, saves := newTestCommands()
	if reply := c.AddSubscription(1, 0, "  "); !strings.Contains(reply, "Please specify") {
		t.Errorf("empty add reply = %q", reply)
	}
	if reply := c.AddSubscription(1, 0, "rating:spicy"); !strings.Contains(reply, "Failed to parse") {
		t.Errorf("invalid add reply = %q", reply)
	}
	if *saves != 0 {
		t.Errorf("failed adds persisted, saves = %d", *saves)
	}
}

func TestCommandsEscapeHTML(t *testing.T) {
	c, _ := newTestCommands()
	reply := c.AddSubscription(1, 0, "<b>fox</b>")
	if strings.Contains(reply, "<b>") {
		t.Errorf("reply leaks raw HTML: %q", reply)
	}
	if !strings.Contains(reply, "&lt;b&gt;fox&lt;/b&gt;") {
		t.Errorf("reply missing escaped query: %q", reply)
	}
}

func TestCommandsPauseResume(t *testing.T) {
	c, _ := newTestCommands()
	c.AddSubscription(1, 0, "fox")
	c.AddSubscription(1, 0, "wolf")

	reply := c.Pause(1, "fox")
	if !strings.Contains(reply, `Paused subscription: "fox".`) {
		t.Errorf("pause reply = %q", reply)
	}
	if !strings.Contains(reply, "⏸<s>fox</s>") {
		t.Errorf("pause listing missing strikethrough: %q", reply)
	}
	if reply := c.Pause(1, "fox"); !strings.Contains(reply, "already paused") {
		t.Errorf("double pause reply = %q", reply)
	}

	if reply := c.Pause(1, ""); !strings.Contains(reply, "Paused all subscriptions.") {
		t.Errorf("pause all reply = %q", reply)
	}
	if reply := c.Pause(1, ""); !strings.Contains(reply, "All subscriptions are already paused.") {
		t.Errorf("second pause all reply = %q", reply)
	}
	if reply := c.Pause(2, ""); !strings.Contains(reply, "no subscriptions posting here") {
		t.Errorf("pause empty destination reply = %q", reply)
	}

	if reply := c.Resume(1, ""); !strings.Contains(reply, "Resumed all subscriptions.") {
		t.Errorf("resume all reply = %q", reply)
	}
	if reply := c.Resume(1, "fox"); !strings.Contains(reply, "already running") {
		t.Errorf("resume running reply = %q", reply)
	}
}

func TestCommandsBlocklist(t *testing.T) {
	c, _ := newTestCommands()

	if reply := c.AddBlock(1, ""); !strings.Contains(reply, "Please specify") {
		t.Errorf("empty block add reply = %q", reply)
	}
	reply := c.AddBlock(1, "gore")
	if !strings.Contains(reply, `Added tag to blocklist: "gore".`) {
		t.Errorf("block add reply = %q", reply)
	}
	if !strings.Contains(reply, "- gore") {
		t.Errorf("block add listing = %q", reply)
	}
	if reply := c.RemoveBlock(1, "vore"); !strings.Contains(reply, "is not on the blocklist") {
		t.Errorf("block remove missing reply = %q", reply)
	}
	if reply := c.RemoveBlock(1, "gore"); !strings.Contains(reply, `Removed tag from blocklist: "gore".`) {
		t.Errorf("block remove reply = %q", reply)
	}
}

func TestCommandsUsageLabels(t *testing.T) {
	var labels []string
	c := &Commands{
		Store: NewStore(),
		Usage: func(label string) { labels = append(labels, label) },
	}
	c.AddSubscription(1, 0, "fox")
	c.ListSubscriptions(1)
	c.Pause(1, "")

	want := []string{"subscription_add", "subscription_list", "subscription_dest_pause"}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("labels[%d] = %q, want %q", i, labels[i], want[i])
		}
	}
}
