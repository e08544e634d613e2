package main

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/subwatch/subwatch/internal/subscription"
)

// registerAdmin exposes the subscription management commands over HTTP for
// the chat front-end. Every endpoint takes a destination form value; most
// take a query. Replies are the same HTML snippets the bot posts back to the
// chat.
func registerAdmin(mux *http.ServeMux, cmds *subscription.Commands) {
	withDest := func(fn func(dest int64, r *http.Request) string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			dest, err := strconv.ParseInt(r.FormValue("destination"), 10, 64)
			if err != nil {
				http.Error(w, "bad destination", http.StatusBadRequest)
				return
			}
			io.WriteString(w, fn(dest, r))
		}
	}
	queryArg := func(r *http.Request) string {
		return strings.TrimSpace(r.FormValue("query"))
	}

	mux.Handle("/admin/subscriptions/add", withDest(func(dest int64, r *http.Request) string {
		creator, _ := strconv.ParseInt(r.FormValue("creator"), 10, 64)
		return cmds.AddSubscription(dest, creator, queryArg(r))
	}))
	mux.Handle("/admin/subscriptions/remove", withDest(func(dest int64, r *http.Request) string {
		return cmds.RemoveSubscription(dest, queryArg(r))
	}))
	mux.Handle("/admin/subscriptions/list", withDest(func(dest int64, r *http.Request) string {
		return cmds.ListSubscriptions(dest)
	}))
	mux.Handle("/admin/subscriptions/pause", withDest(func(dest int64, r *http.Request) string {
		return cmds.Pause(dest, queryArg(r))
	}))
	mux.Handle("/admin/subscriptions/resume", withDest(func(dest int64, r *http.Request) string {
		return cmds.Resume(dest, queryArg(r))
	}))
	mux.Handle("/admin/blocklist/add", withDest(func(dest int64, r *http.Request) string {
		return cmds.AddBlock(dest, queryArg(r))
	}))
	mux.Handle("/admin/blocklist/remove", withDest(func(dest int64, r *http.Request) string {
		return cmds.RemoveBlock(dest, queryArg(r))
	}))
	mux.Handle("/admin/blocklist/list", withDest(func(dest int64, r *http.Request) string {
		return cmds.ListBlocks(dest)
	}))
}
