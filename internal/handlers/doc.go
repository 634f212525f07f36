// Package handlers provides the stock task handlers the daemon can bind to a
// category from config: "log" records the task and succeeds, "exec" runs a
// command with the task payload.
package handlers
