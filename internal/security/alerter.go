package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Audit event names emitted by the HTTP layer.
const (
	EventSignup         = "auth.signup"
	EventSignin         = "auth.signin"
	EventResetRequest   = "auth.reset.request"
	EventReset          = "auth.reset"
	EventAuthenticate   = "auth.authenticate"
	EventResourceAccess = "resource.access"

	OutcomeSuccess     = "success"
	OutcomeFail        = "fail"
	OutcomeDenied      = "denied"
	OutcomeRateLimited = "rate_limited"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter aggregates security events per client IP and reports when a
// threshold is crossed inside its window.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter creates an alerter backed by Redis counters.
// It returns nil when no Redis address is configured; a nil alerter observes nothing.
func NewAuditAlerter(addr, password, prefix string) *AuditAlerter {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "studium:alerts"
	}
	return &AuditAlerter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		now:    time.Now,
	}
}

// Observe records a security event and returns whether the alert threshold is reached.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil || a.client == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, fmt.Errorf("count security event: %w", err)
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

// Close releases the Redis client.
func (a *AuditAlerter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	event = strings.TrimSpace(event)
	switch strings.TrimSpace(outcome) {
	case OutcomeRateLimited:
		return 20, time.Minute, true
	case OutcomeDenied:
		// cross-tenant probing of notebook/source/conversation ids
		if event == EventResourceAccess {
			return 30, 5 * time.Minute, true
		}
		return 0, 0, false
	case OutcomeFail:
	default:
		return 0, 0, false
	}
	switch event {
	case EventSignin, EventSignup:
		return 10, 5 * time.Minute, true
	case EventReset, EventResetRequest:
		return 5, 15 * time.Minute, true
	case EventAuthenticate:
		return 25, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
