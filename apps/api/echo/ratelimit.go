package echoapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/sayghamsari/daftarrabet/core"
)

var errTooManyRequests = echo.NewHTTPError(http.StatusTooManyRequests, "تعداد درخواست‌ها بیش از حد مجاز است، کمی بعد تلاش کنید")

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	logged   bool // first denial already logged
}

// ipLimiter keeps one token bucket per client IP. It is in-memory and not shared between instances.
type ipLimiter struct {
	name      string
	perSecond rate.Limit
	burst     int
	ttl       time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor

	onFirstDenied func(ip string)
	onDenied      func(ip string)
}

func newIPLimiter(ctx context.Context, name string, conf core.RateLimitConfig) *ipLimiter {
	l := &ipLimiter{
		name:      name,
		perSecond: rate.Limit(conf.PerSecond),
		burst:     conf.Burst,
		ttl:       conf.TTL,
		visitors:  make(map[string]*visitor),
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	if l.ttl <= 0 {
		l.ttl = 10 * time.Minute
	}
	go l.cleanup(ctx)
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()
	first := !allowed && !v.logged
	if first {
		v.logged = true
	}
	l.mu.Unlock()

	if first && l.onFirstDenied != nil {
		l.onFirstDenied(ip)
	}
	if !allowed && l.onDenied != nil {
		l.onDenied(ip)
	}
	return allowed
}

// cleanup evicts idle visitors every ttl/2 until ctx is done.
func (l *ipLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if now.Sub(v.lastSeen) > l.ttl {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *ipLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !l.allow(ctx.RealIP()) {
				ctx.Response().Header().Set("Retry-After", "30")
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}

// newIPExtractor returns how the client IP is read. Without trusted proxies the peer address is used and
// X-Forwarded-For is ignored; otherwise the rightmost address not in trustedProxies is the client.
func newIPExtractor(trustedProxies []string) (echo.IPExtractor, error) {
	if len(trustedProxies) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{echo.TrustLoopback(false), echo.TrustLinkLocal(false), echo.TrustPrivateNet(false)}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing trusted proxy %q", cidr)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}
