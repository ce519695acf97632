// Package usage keeps per-client ingress statistics in Redis.
//
// Several gateway instances may write concurrently. Any process with access
// to Redis can read the totals back.
//
// Redis key structure:
//
//	relic:usage:{client_id}                 - hash with totals and last use
//	relic:usage:hourly:{client_id}:{YYYYMMDDHH} - accepted count for the hour (expires 48h)
//	relic:usage:ips:{client_id}:{YYYYMMDD}  - set of source addresses for the day (expires 7d)
//	relic:usage:instances:{client_id}       - hash of gateway instance -> last seen unix time
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relic:usage:"

// Stats is the current usage of one client.
type Stats struct {
	ClientID         string            `json:"client_id"`
	LastSeenAt       *time.Time        `json:"last_seen_at,omitempty"`
	LastSeenIP       string            `json:"last_seen_ip,omitempty"`
	TotalAccepted    int64             `json:"total_accepted"`
	AcceptedLastHour int64             `json:"accepted_last_hour"`
	AcceptedLast24h  int64             `json:"accepted_last_24h"`
	UniqueIPsToday   int64             `json:"unique_ips_today"`
	Instances        map[string]string `json:"instances,omitempty"`
	RetrievedAt      time.Time         `json:"retrieved_at"`
}

// Store reads and writes usage counters.
type Store struct {
	redis      *redis.Client
	instanceID string
	now        func() time.Time
}

// NewStore wraps an existing Redis client. instanceID should be unique per
// gateway process (hostname, pod name).
func NewStore(client *redis.Client, instanceID string) *Store {
	return &Store{redis: client, instanceID: instanceID, now: time.Now}
}

func statsKey(clientID string) string { return keyPrefix + clientID }

func hourlyKey(clientID string, t time.Time) string {
	return keyPrefix + "hourly:" + clientID + ":" + t.Format("2006010215")
}

func ipsKey(clientID string, t time.Time) string {
	return keyPrefix + "ips:" + clientID + ":" + t.Format("20060102")
}

func instancesKey(clientID string) string { return keyPrefix + "instances:" + clientID }

// Batch accumulates usage for one client between flushes.
type Batch struct {
	ClientID string
	Accepted int64
	IPs      map[string]struct{}
	LastIP   string
}

func NewBatch(clientID string) *Batch {
	return &Batch{ClientID: clientID, IPs: make(map[string]struct{})}
}

// Add counts n accepted data points from ip.
func (b *Batch) Add(n int64, ip string) {
	b.Accepted += n
	if ip != "" {
		b.IPs[ip] = struct{}{}
		b.LastIP = ip
	}
}

// merge folds other into b.
func (b *Batch) merge(other *Batch) {
	b.Accepted += other.Accepted
	for ip := range other.IPs {
		b.IPs[ip] = struct{}{}
	}
	if other.LastIP != "" {
		b.LastIP = other.LastIP
	}
}

// Flush writes a batch in one pipeline.
func (s *Store) Flush(ctx context.Context, b *Batch) error {
	if b.Accepted == 0 {
		return nil
	}

	now := s.now()
	nowUnix := strconv.FormatInt(now.Unix(), 10)
	pipe := s.redis.Pipeline()

	fields := map[string]interface{}{"last_seen_at": nowUnix}
	if b.LastIP != "" {
		fields["last_seen_ip"] = b.LastIP
	}
	pipe.HSet(ctx, statsKey(b.ClientID), fields)
	pipe.HIncrBy(ctx, statsKey(b.ClientID), "total_accepted", b.Accepted)

	hk := hourlyKey(b.ClientID, now)
	pipe.IncrBy(ctx, hk, b.Accepted)
	pipe.Expire(ctx, hk, 48*time.Hour)

	if len(b.IPs) > 0 {
		ips := make([]interface{}, 0, len(b.IPs))
		for ip := range b.IPs {
			ips = append(ips, ip)
		}
		ik := ipsKey(b.ClientID, now)
		pipe.SAdd(ctx, ik, ips...)
		pipe.Expire(ctx, ik, 7*24*time.Hour)
	}

	pipe.HSet(ctx, instancesKey(b.ClientID), s.instanceID, nowUnix)
	pipe.Expire(ctx, instancesKey(b.ClientID), 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flush usage for %s: %w", b.ClientID, err)
	}
	return nil
}

// Get returns the usage of clientID. An unknown client yields zero counts.
func (s *Store) Get(ctx context.Context, clientID string) (*Stats, error) {
	now := s.now()

	pipe := s.redis.Pipeline()
	statsCmd := pipe.HGetAll(ctx, statsKey(clientID))
	hourly := make([]*redis.StringCmd, 24)
	for i := range hourly {
		hourly[i] = pipe.Get(ctx, hourlyKey(clientID, now.Add(-time.Duration(i)*time.Hour)))
	}
	ipsCmd := pipe.SCard(ctx, ipsKey(clientID, now))
	instancesCmd := pipe.HGetAll(ctx, instancesKey(clientID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read usage for %s: %w", clientID, err)
	}

	stats := &Stats{ClientID: clientID, RetrievedAt: now, Instances: map[string]string{}}

	if m, err := statsCmd.Result(); err == nil {
		if v, ok := m["last_seen_at"]; ok {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				t := time.Unix(unix, 0).UTC()
				stats.LastSeenAt = &t
			}
		}
		stats.LastSeenIP = m["last_seen_ip"]
		stats.TotalAccepted, _ = strconv.ParseInt(m["total_accepted"], 10, 64)
	}

	for i, cmd := range hourly {
		if v, err := cmd.Int64(); err == nil {
			if i == 0 {
				stats.AcceptedLastHour = v
			}
			stats.AcceptedLast24h += v
		}
	}

	if v, err := ipsCmd.Result(); err == nil {
		stats.UniqueIPsToday = v
	}

	if m, err := instancesCmd.Result(); err == nil {
		for instance, lastSeen := range m {
			if unix, err := strconv.ParseInt(lastSeen, 10, 64); err == nil {
				stats.Instances[instance] = time.Unix(unix, 0).UTC().Format(time.RFC3339)
			}
		}
	}

	return stats, nil
}

// ListActive returns the clients seen within since.
func (s *Store) ListActive(ctx context.Context, since time.Duration) ([]string, error) {
	cutoff := s.now().Add(-since).Unix()
	var ids []string

	// Only the stats hashes have exactly one segment after the prefix.
	iter := s.redis.Scan(ctx, 0, keyPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), keyPrefix)
		if strings.ContainsRune(id, ':') {
			continue
		}
		lastSeen, err := s.redis.HGet(ctx, iter.Val(), "last_seen_at").Int64()
		if err == nil && lastSeen >= cutoff {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan usage keys: %w", err)
	}
	return ids, nil
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.redis.Close()
}
