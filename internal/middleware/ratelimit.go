package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/metrics"
)

// RateLimitMessage is returned to throttled clients.
const RateLimitMessage = "Demasiadas solicitudes. Intente nuevamente en unos momentos."

// RateLimiter keeps one token bucket per client IP. The least recently seen
// clients are evicted once MaxClients is reached.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
	metrics *metrics.Collector
}

// NewRateLimiter builds a limiter allowing cfg.Requests per cfg.Per.
func NewRateLimiter(cfg domain.RateLimitConfig, m *metrics.Collector) (*RateLimiter, error) {
	per := cfg.Per
	if per <= 0 {
		per = time.Minute
	}
	requests := cfg.Requests
	if requests <= 0 {
		requests = 30
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = requests
	}
	size := cfg.MaxClients
	if size <= 0 {
		size = 10000
	}

	clients, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requests) / per.Seconds()),
		burst:   burst,
		clients: clients,
		metrics: m,
	}, nil
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.clients.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients.Add(key, l)
	return l
}

// Allow reports whether key may proceed now and, if not, how long to wait.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	r := rl.limiter(key).Reserve()
	if !r.OK() {
		return false, time.Duration(math.MaxInt64)
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.Allow(c.ClientIP())
		if ok {
			c.Next()
			return
		}

		rl.metrics.ObserveRateLimited()
		retry := int(math.Ceil(wait.Seconds()))
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.Set(OutcomeKey, "rate_limited")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, domain.NewAPIError(
			domain.ErrCodeRateLimit, RateLimitMessage, nil, c.GetString(CorrelationIDKey),
		))
	}
}
