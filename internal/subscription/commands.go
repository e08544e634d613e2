package subscription

import (
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"
)

// Commands is the management surface: each method handles one chat command
// against the store and returns the HTML reply text. Save, when set, is
// called after every successful mutation; Usage, when set, is called with a
// use-case label for metrics.
type Commands struct {
	Store *Store
	Save  func() error
	Usage func(label string)
}

const (
	useAdd        = "subscription_add"
	useRemove     = "subscription_remove"
	useList       = "subscription_list"
	usePauseDest  = "subscription_dest_pause"
	usePauseSub   = "subscription_pause"
	useResumeDest = "subscription_dest_resume"
	useResumeSub  = "subscription_resume"
	useBlockAdd   = "block_add"
	useBlockRm    = "block_remove"
	useBlockList  = "block_list"
)

func (c *Commands) count(label string) {
	if c.Usage != nil {
		c.Usage(label)
	}
}

func (c *Commands) persist() {
	if c.Save == nil {
		return
	}
	if err := c.Save(); err != nil {
		log.Printf("subwatch[commands]: save failed: %v", err)
	}
}

// AddSubscription handles /add_subscription <query>.
func (c *Commands) AddSubscription(destination, creatorID int64, args string) string {
	c.count(useAdd)
	queryStr := strings.TrimSpace(args)
	if queryStr == "" {
		return "Please specify the subscription query you wish to add."
	}
	sub, err := New(queryStr, destination)
	if err != nil {
		log.Printf("subwatch[commands]: failed to parse new subscription query %q: %v", queryStr, err)
		return fmt.Sprintf("Failed to parse subscription query: %s", html.EscapeString(err.Error()))
	}
	sub.CreatorID = creatorID
	sub.CreatedAt = time.Now().UTC()
	if err := c.Store.Add(sub); err != nil {
		return fmt.Sprintf("A subscription already exists for \"%s\".", html.EscapeString(queryStr))
	}
	c.persist()
	return fmt.Sprintf("Added subscription: \"%s\".\n%s", html.EscapeString(queryStr), c.listText(destination))
}

// RemoveSubscription handles /remove_subscription <query>.
func (c *Commands) RemoveSubscription(destination int64, args string) string {
	c.count(useRemove)
	queryStr := strings.TrimSpace(args)
	if err := c.Store.Remove(queryStr, destination); err != nil {
		return fmt.Sprintf("There is not a subscription for \"%s\" in this chat.", html.EscapeString(queryStr))
	}
	c.persist()
	return fmt.Sprintf("Removed subscription: \"%s\".\n%s", html.EscapeString(queryStr), c.listText(destination))
}

// ListSubscriptions handles /list_subscriptions.
func (c *Commands) ListSubscriptions(destination int64) string {
	c.count(useList)
	return c.listText(destination)
}

func (c *Commands) listText(destination int64) string {
	subs := c.Store.List(destination)
	lines := make([]string, 0, len(subs))
	for _, sub := range subs {
		if sub.Paused {
			lines = append(lines, fmt.Sprintf("- ⏸<s>%s</s>", html.EscapeString(sub.QueryStr)))
		} else {
			lines = append(lines, fmt.Sprintf("- %s", html.EscapeString(sub.QueryStr)))
		}
	}
	return "Current subscriptions in this chat:\n" + strings.Join(lines, "\n")
}

// Pause handles /pause [query]: with no argument it pauses the whole
// destination, with one it pauses a single subscription.
func (c *Commands) Pause(destination int64, args string) string {
	queryStr := strings.TrimSpace(args)
	if queryStr == "" {
		c.count(usePauseDest)
		switch err := c.Store.PauseDestination(destination); {
		case errors.Is(err, ErrNotFound):
			return "There are no subscriptions posting here to pause."
		case errors.Is(err, ErrAlreadyPaused):
			return "All subscriptions are already paused."
		}
		c.persist()
		return fmt.Sprintf("Paused all subscriptions.\n%s", c.listText(destination))
	}
	c.count(usePauseSub)
	switch err := c.Store.PauseSubscription(queryStr, destination); {
	case errors.Is(err, ErrNotFound):
		return fmt.Sprintf("There is not a subscription for \"%s\" in this chat.", html.EscapeString(queryStr))
	case errors.Is(err, ErrAlreadyPaused):
		return fmt.Sprintf("Subscription for \"%s\" is already paused.", html.EscapeString(queryStr))
	}
	c.persist()
	return fmt.Sprintf("Paused subscription: \"%s\".\n%s", html.EscapeString(queryStr), c.listText(destination))
}

// Resume handles /resume [query], the inverse of Pause.
func (c *Commands) Resume(destination int64, args string) string {
	queryStr := strings.TrimSpace(args)
	if queryStr == "" {
		c.count(useResumeDest)
		switch err := c.Store.ResumeDestination(destination); {
		case errors.Is(err, ErrNotFound):
			return "There are no subscriptions posting here to resume."
		case errors.Is(err, ErrAlreadyRunning):
			return "All subscriptions are already running."
		}
		c.persist()
		return fmt.Sprintf("Resumed all subscriptions.\n%s", c.listText(destination))
	}
	c.count(useResumeSub)
	switch err := c.Store.ResumeSubscription(queryStr, destination); {
	case errors.Is(err, ErrNotFound):
		return fmt.Sprintf("There is not a subscription for \"%s\" in this chat.", html.EscapeString(queryStr))
	case errors.Is(err, ErrAlreadyRunning):
		return fmt.Sprintf("Subscription for \"%s\" is already running.", html.EscapeString(queryStr))
	}
	c.persist()
	return fmt.Sprintf("Resumed subscription: \"%s\".\n%s", html.EscapeString(queryStr), c.listText(destination))
}

// AddBlock handles /add_blocklisted_tag <query>.
func (c *Commands) AddBlock(destination int64, args string) string {
	c.count(useBlockAdd)
	queryStr := strings.TrimSpace(args)
	if queryStr == "" {
		return "Please specify the tag you wish to add to blocklist."
	}
	if err := c.Store.AddBlock(destination, queryStr); err != nil {
		return fmt.Sprintf("Failed to parse blocklist query: %s", html.EscapeString(err.Error()))
	}
	c.persist()
	return fmt.Sprintf("Added tag to blocklist: \"%s\".\n%s", html.EscapeString(queryStr), c.blocksText(destination))
}

// RemoveBlock handles /remove_blocklisted_tag <query>.
func (c *Commands) RemoveBlock(destination int64, args string) string {
	c.count(useBlockRm)
	queryStr := strings.TrimSpace(args)
	if err := c.Store.RemoveBlock(destination, queryStr); err != nil {
		return fmt.Sprintf("The tag \"%s\" is not on the blocklist for this chat.", html.EscapeString(queryStr))
	}
	c.persist()
	return fmt.Sprintf("Removed tag from blocklist: \"%s\".\n%s", html.EscapeString(queryStr), c.blocksText(destination))
}

// ListBlocks handles /list_blocklisted_tags.
func (c *Commands) ListBlocks(destination int64) string {
	c.count(useBlockList)
	return c.blocksText(destination)
}

func (c *Commands) blocksText(destination int64) string {
	blocks := c.Store.Blocks(destination)
	lines := make([]string, 0, len(blocks))
	for _, q := range blocks {
		lines = append(lines, "- "+html.EscapeString(q))
	}
	return "Current blocklist for this chat:\n" + strings.Join(lines, "\n")
}
