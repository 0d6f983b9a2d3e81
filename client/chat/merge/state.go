// Package merge applies server-pushed events to the client caches. Every
// function returns a new value and leaves its inputs untouched, so callers
// can publish results as snapshots.
package merge

import (
	"sort"

	"msg_client/client/chat/domain"
)

const (
	DefaultLiveCap = 100
	DefaultBulkCap = 500
)

type Outcome int

const (
	Applied Outcome = iota
	NoOp
	Transient
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NoOp:
		return "noop"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

type Limits struct {
	Live int
	Bulk int
}

func (l Limits) normalized() Limits {
	if l.Live <= 0 {
		l.Live = DefaultLiveCap
	}
	if l.Bulk <= 0 {
		l.Bulk = DefaultBulkCap
	}
	return l
}

// State is the merged view of everything the server has pushed. Slices are
// sorted (ids) or chronological (messages) and never shared with callers
// after a merge.
type State struct {
	Messages []domain.Message
	Channels []domain.Channel
	Members  map[string][]string
	Online   []string
	ByOrg    map[string][]string
}

func NewState() State {
	return State{
		Messages: []domain.Message{},
		Channels: []domain.Channel{},
		Members:  map[string][]string{},
		Online:   []string{},
		ByOrg:    map[string][]string{},
	}
}

func (s State) Presence() domain.PresenceSnapshot {
	return domain.PresenceSnapshot{Online: append([]string{}, s.Online...), ByOrg: copyIndex(s.ByOrg)}
}

// Apply merges one inbound event. Typing and announcement events do not
// touch the state and report Transient.
func Apply(s State, ev domain.Event, limits Limits) (State, Outcome) {
	limits = limits.normalized()
	switch e := ev.(type) {
	case domain.NewMessageEvent:
		s.Messages = AppendMessage(s.Messages, e.Message, limits.Live)
		return s, Applied
	case domain.MessageDeletedEvent:
		next, ok := MarkDeleted(s.Messages, e.MessageID)
		if !ok {
			return s, NoOp
		}
		s.Messages = next
		return s, Applied
	case domain.MessagesEvent:
		s.Messages = MergeFetched(s.Messages, e.Messages, limits.Bulk)
		return s, Applied
	case domain.ChannelUsersEvent:
		s.Members = ReplaceMembers(s.Members, e.ChannelID, e.UserIDs)
		return s, Applied
	case domain.UserJoinedChannelEvent:
		s.Members = JoinChannel(s.Members, e.ChannelID, e.UserID)
		return s, Applied
	case domain.UserLeftChannelEvent:
		next, ok := LeaveChannel(s.Members, e.ChannelID, e.UserID)
		if !ok {
			return s, NoOp
		}
		s.Members = next
		return s, Applied
	case domain.UserOnlineEvent:
		s.Online, s.ByOrg = UserOnline(s.Online, s.ByOrg, e.UserID, e.OrgID)
		return s, Applied
	case domain.UserOfflineEvent:
		s.Online, s.ByOrg = UserOffline(s.Online, s.ByOrg, e.UserID, e.OrgID)
		return s, Applied
	case domain.UserTypingEvent, domain.AnnouncementEvent:
		return s, Transient
	default:
		return s, NoOp
	}
}

// AppendMessage adds a live message, trimming the oldest past limit. A
// message whose client id or server id is already cached replaces the
// cached copy in place.
func AppendMessage(msgs []domain.Message, m domain.Message, limit int) []domain.Message {
	if i := indexOf(msgs, m); i >= 0 {
		out := append([]domain.Message(nil), msgs...)
		out[i] = m
		return out
	}
	out := make([]domain.Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	out = append(out, m)
	return keepNewest(out, limit)
}

// MarkDeleted blanks the body and attachments of the message with id.
// It reports false when the id is not cached.
func MarkDeleted(msgs []domain.Message, id string) ([]domain.Message, bool) {
	if id == "" {
		return msgs, false
	}
	for i := range msgs {
		if msgs[i].ID != id {
			continue
		}
		out := append([]domain.Message(nil), msgs...)
		m := out[i]
		m.Body = ""
		m.Attachments = []domain.Attachment{}
		m.Deleted = true
		out[i] = m
		return out, true
	}
	return msgs, false
}

// MergeFetched prepends a newest-first page in chronological order, skips
// messages already cached and keeps the newest limit messages.
func MergeFetched(msgs []domain.Message, page []domain.Message, limit int) []domain.Message {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			seen["id:"+m.ID] = struct{}{}
		}
		if m.ClientMsgID != "" {
			seen["c:"+m.ClientMsgID] = struct{}{}
		}
	}

	older := make([]domain.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if _, dup := seen["id:"+m.ID]; m.ID != "" && dup {
			continue
		}
		if _, dup := seen["c:"+m.ClientMsgID]; m.ClientMsgID != "" && dup {
			continue
		}
		if m.ID != "" {
			seen["id:"+m.ID] = struct{}{}
		}
		older = append(older, m)
	}

	out := make([]domain.Message, 0, len(older)+len(msgs))
	out = append(out, older...)
	out = append(out, msgs...)
	return keepNewest(out, limit)
}

func keepNewest(msgs []domain.Message, limit int) []domain.Message {
	if limit > 0 && len(msgs) > limit {
		return append([]domain.Message(nil), msgs[len(msgs)-limit:]...)
	}
	return msgs
}

func indexOf(msgs []domain.Message, m domain.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m.ClientMsgID != "" && msgs[i].ClientMsgID == m.ClientMsgID {
			return i
		}
		if m.ID != "" && msgs[i].ID == m.ID {
			return i
		}
	}
	return -1
}

// ReplaceMembers swaps the member set of one channel for a snapshot.
func ReplaceMembers(members map[string][]string, channelID string, users []string) map[string][]string {
	out := copyIndex(members)
	out[channelID] = sortedSet(users)
	return out
}

func JoinChannel(members map[string][]string, channelID, userID string) map[string][]string {
	if contains(members[channelID], userID) {
		return members
	}
	out := copyIndex(members)
	out[channelID] = insert(members[channelID], userID)
	return out
}

// LeaveChannel reports false when the user was not a member.
func LeaveChannel(members map[string][]string, channelID, userID string) (map[string][]string, bool) {
	if !contains(members[channelID], userID) {
		return members, false
	}
	out := copyIndex(members)
	out[channelID] = remove(members[channelID], userID)
	return out, true
}

// UserOnline adds the user to the global set and, with an org id, to
// that org's subset.
func UserOnline(online []string, byOrg map[string][]string, userID, orgID string) ([]string, map[string][]string) {
	nextOnline := insert(online, userID)
	if orgID == "" || contains(byOrg[orgID], userID) {
		return nextOnline, byOrg
	}
	nextOrg := copyIndex(byOrg)
	nextOrg[orgID] = insert(byOrg[orgID], userID)
	return nextOnline, nextOrg
}

// UserOffline removes the user from the global set and from the named org,
// or from every org when none is given.
func UserOffline(online []string, byOrg map[string][]string, userID, orgID string) ([]string, map[string][]string) {
	nextOnline := remove(online, userID)
	var nextOrg map[string][]string
	for org, users := range byOrg {
		if orgID != "" && org != orgID {
			continue
		}
		if !contains(users, userID) {
			continue
		}
		if nextOrg == nil {
			nextOrg = copyIndex(byOrg)
		}
		if rest := remove(users, userID); len(rest) > 0 {
			nextOrg[org] = rest
		} else {
			delete(nextOrg, org)
		}
	}
	if nextOrg == nil {
		return nextOnline, byOrg
	}
	return nextOnline, nextOrg
}

// SetChannels replaces the channel list.
func SetChannels(channels []domain.Channel) []domain.Channel {
	return append([]domain.Channel{}, channels...)
}

// UpsertChannel replaces a channel with the same id or appends it.
func UpsertChannel(channels []domain.Channel, ch domain.Channel) []domain.Channel {
	out := append([]domain.Channel{}, channels...)
	for i := range out {
		if out[i].ID == ch.ID {
			out[i] = ch
			return out
		}
	}
	return append(out, ch)
}

func copyIndex(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func contains(sorted []string, item string) bool {
	i := sort.SearchStrings(sorted, item)
	return i < len(sorted) && sorted[i] == item
}

func insert(sorted []string, item string) []string {
	if item == "" || contains(sorted, item) {
		return sorted
	}
	i := sort.SearchStrings(sorted, item)
	out := make([]string, 0, len(sorted)+1)
	out = append(out, sorted[:i]...)
	out = append(out, item)
	return append(out, sorted[i:]...)
}

func remove(sorted []string, item string) []string {
	i := sort.SearchStrings(sorted, item)
	if i >= len(sorted) || sorted[i] != item {
		return sorted
	}
	out := make([]string, 0, len(sorted)-1)
	out = append(out, sorted[:i]...)
	return append(out, sorted[i+1:]...)
}
