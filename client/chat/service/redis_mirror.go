package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"msg_client/client/chat/domain"
	"msg_client/client/common/log"
)

const mirrorTimeout = 2 * time.Second

// RedisMirror copies presence, membership and connection state into Redis
// and republishes typing and announcement events on pub/sub channels, so
// other local processes can read the client's view without a socket.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisMirror(rdb *redis.Client, prefix string) *RedisMirror {
	if prefix == "" {
		prefix = "chatclient"
	}
	return &RedisMirror{rdb: rdb, prefix: prefix}
}

func (m *RedisMirror) Run(ctx context.Context, feed Feed) {
	consume(ctx, feed, feedHandlers{
		state: func(s domain.ConnectionState) {
			m.do(ctx, "state", func(c context.Context) error { return m.writeState(c, s) })
		},
		presence: func(p domain.PresenceSnapshot) {
			m.do(ctx, "presence", func(c context.Context) error { return m.writePresence(c, p) })
		},
		members: func(mm map[string][]string) {
			m.do(ctx, "members", func(c context.Context) error { return m.writeMembers(c, mm) })
		},
		typing: func(t domain.TypingEvent) {
			m.do(ctx, "typing", func(c context.Context) error { return m.publish(c, "typing", t) })
		},
		announcement: func(a domain.Announcement) {
			m.do(ctx, "announcement", func(c context.Context) error { return m.publish(c, "announcements", a) })
		},
	})
}

func (m *RedisMirror) do(ctx context.Context, what string, fn func(context.Context) error) {
	c, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := fn(c); err != nil {
		log.Warnf("event=redis_mirror action=%s status=failed err=%v", what, err)
	}
}

func (m *RedisMirror) key(parts ...string) string {
	k := m.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (m *RedisMirror) writeState(ctx context.Context, s domain.ConnectionState) error {
	return m.rdb.Set(ctx, m.key("state"), s.String(), 0).Err()
}

// writePresence replaces the mirrored sets with the snapshot in one
// transaction, including org sets that emptied since the last write.
func (m *RedisMirror) writePresence(ctx context.Context, p domain.PresenceSnapshot) error {
	indexKey := m.key("presence", "orgs")
	previous, err := m.rdb.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		m.queuePresence(ctx, pipe, previous, p)
		return nil
	})
	return err
}

// queuePresence queues the commands that turn the mirrored presence into p,
// given the org ids recorded by the previous write.
func (m *RedisMirror) queuePresence(ctx context.Context, pipe redis.Pipeliner, previous []string, p domain.PresenceSnapshot) {
	indexKey := m.key("presence", "orgs")
	replaceSet(ctx, pipe, m.key("presence", "online"), p.Online)
	for _, org := range previous {
		if _, still := p.ByOrg[org]; !still {
			pipe.Del(ctx, m.key("presence", "org", org))
		}
	}
	pipe.Del(ctx, indexKey)
	for _, org := range sortedKeys(p.ByOrg) {
		replaceSet(ctx, pipe, m.key("presence", "org", org), p.ByOrg[org])
		pipe.SAdd(ctx, indexKey, org)
	}
}

func (m *RedisMirror) writeMembers(ctx context.Context, members map[string][]string) error {
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, channelID := range sortedKeys(members) {
			replaceSet(ctx, pipe, m.key("members", channelID), members[channelID])
		}
		return nil
	})
	return err
}

func (m *RedisMirror) publish(ctx context.Context, channel string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.rdb.Publish(ctx, m.key(channel), b).Err()
}

func replaceSet(ctx context.Context, pipe redis.Pipeliner, key string, members []string) {
	pipe.Del(ctx, key)
	if len(members) == 0 {
		return
	}
	args := make([]any, 0, len(members))
	for _, member := range members {
		args = append(args, member)
	}
	pipe.SAdd(ctx, key, args...)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
