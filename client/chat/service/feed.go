package service

import (
	"context"

	"msg_client/client/chat/domain"
)

// Feed is a bundle of subscriptions to a manager's observable state, used
// by sidecar consumers that run on their own goroutine.
type Feed struct {
	States        <-chan domain.ConnectionState
	Presence      <-chan domain.PresenceSnapshot
	Members       <-chan map[string][]string
	Typing        <-chan domain.TypingEvent
	Announcements <-chan domain.Announcement
}

type feedHandlers struct {
	state        func(domain.ConnectionState)
	presence     func(domain.PresenceSnapshot)
	members      func(map[string][]string)
	typing       func(domain.TypingEvent)
	announcement func(domain.Announcement)
}

// consume dispatches feed values until ctx ends or every channel closes.
// Channels without a handler are still drained.
func consume(ctx context.Context, f Feed, h feedHandlers) {
	states, presence, members, typing, announcements := f.States, f.Presence, f.Members, f.Typing, f.Announcements
	for states != nil || presence != nil || members != nil || typing != nil || announcements != nil {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-states:
			if !ok {
				states = nil
			} else if h.state != nil {
				h.state(v)
			}
		case v, ok := <-presence:
			if !ok {
				presence = nil
			} else if h.presence != nil {
				h.presence(v)
			}
		case v, ok := <-members:
			if !ok {
				members = nil
			} else if h.members != nil {
				h.members(v)
			}
		case v, ok := <-typing:
			if !ok {
				typing = nil
			} else if h.typing != nil {
				h.typing(v)
			}
		case v, ok := <-announcements:
			if !ok {
				announcements = nil
			} else if h.announcement != nil {
				h.announcement(v)
			}
		}
	}
}
