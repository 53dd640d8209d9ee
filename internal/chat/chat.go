// Package chat defines the opaque chat-transport port and the operator
// command router that sits behind it: the messaging front-end itself is
// an external collaborator and only its interface is defined here. The
// command dispatch table is grounded on the gin route-table style used
// for the ops HTTP surface, adapted from a registered-route map to a
// registered-command map.
package chat

import (
	"context"
	"log"
	"strings"
	"sync"
)

// Message is one inbound chat message, already stripped of transport-
// specific framing.
type Message struct {
	ChannelID string
	AuthorID  string
	Content   string
}

// Transport is the opaque messaging front-end port. The system depends
// only on this interface; the chat front-end is an external collaborator,
// and the only implementation in this module is the logging stand-in in
// cmd/copybridge.
type Transport interface {
	Messages() <-chan Message
	Send(channelID, content string) error
}

// Handler answers one command invocation with a reply and an error. A nil
// error with a non-empty reply sends the reply back to the originating
// channel.
type Handler func(ctx context.Context, msg Message, args []string) (reply string, err error)

// Router dispatches `!command arg1 arg2` messages to registered handlers:
// queue-status, latency-stats, queue-order, test-fill, central-status,
// live-status, reconnect, sim.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register binds a command name (without the leading "!") to a handler.
func (r *Router) Register(command string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[command] = h
}

// ParseCommand splits a "!command arg1 arg2" message body into its
// command name and arguments. ok is false for non-command messages.
func ParseCommand(content string) (command string, args []string, ok bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "!") {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, "!"))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Dispatch looks up and invokes the handler for msg's command, if any.
func (r *Router) Dispatch(ctx context.Context, msg Message) (reply string, handled bool, err error) {
	command, args, ok := ParseCommand(msg.Content)
	if !ok {
		return "", false, nil
	}
	r.mu.RLock()
	h, ok := r.handlers[command]
	r.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	reply, err = h(ctx, msg, args)
	return reply, true, err
}

// Run reads Transport.Messages() until ctx is cancelled, dispatching each
// to its registered handler and sending the reply back to the originating
// channel. Handler errors are logged and never propagate upward, matching
// the fire-and-forget discipline used for trade reporting and broadcasts.
func (r *Router) Run(ctx context.Context, t Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-t.Messages():
			if !ok {
				return
			}
			reply, handled, err := r.Dispatch(ctx, msg)
			if !handled {
				continue
			}
			if err != nil {
				log.Printf("⚠️ chat: command %q failed: %v", msg.Content, err)
				continue
			}
			if reply == "" {
				continue
			}
			if sendErr := t.Send(msg.ChannelID, reply); sendErr != nil {
				log.Printf("⚠️ chat: failed to send reply: %v", sendErr)
			}
		}
	}
}
