package httpserver

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/singleflight"

	"relayd/internal/config"
	"relayd/pkg/cache"
)

// proxy is the request-forwarding core: allow-list resolution, response
// cache and upstream forwarder wired together. All state is injected at
// construction; nothing here mutates after RegisterRoutes.
type proxy struct {
	rules []allowRule
	store cache.Cache
	fwd   *forwarder
	ttl   time.Duration
	group *singleflight.Group // nil unless cache.single_flight
}

func newProxy(cfg *config.FinalConfig, store cache.Cache) *proxy {
	p := &proxy{
		rules: buildRules(cfg.Routes),
		store: store,
		fwd:   newForwarder(cfg.Upstream),
		ttl:   cfg.Cache.TTLDuration(),
	}
	if cfg.Cache.SingleFlight {
		p.group = &singleflight.Group{}
	}
	return p
}

// handle runs the per-request pipeline behind the access guard:
// method check -> resolve -> cache lookup -> forward -> translate -> store.
func (p *proxy) handle(c *fiber.Ctx) error {
	logReq := reqLogger(c)

	method := c.Method()
	if method != fiber.MethodGet && method != fiber.MethodHead {
		return c.Status(fiber.StatusMethodNotAllowed).SendString("Method Not Allowed")
	}

	target, ok := resolveTarget(p.rules, c.Path(), rawQueryWithMark(c.OriginalURL()))
	if !ok {
		return c.Status(fiber.StatusNotFound).SendString("Not allowed")
	}

	cacheKey := method + ":" + target
	cacheable := method == fiber.MethodGet && p.store != nil

	if cacheable {
		// cache errors count as a miss, the cache must not break proxying
		if data, hit, err := p.store.Get(c.UserContext(), cacheKey); err == nil && hit {
			var entry cachedResponse
			if err := json.Unmarshal(data, &entry); err == nil {
				logReq("[relayd][cache] hit key=%s", cacheKey)
				return writeResponse(c, entry.Status, entry.Headers, entry.Body)
			}
		}
	}

	res, err := p.fetch(cacheKey, method, target, c.Get(fiber.HeaderAccept))
	if err != nil {
		logReq("[relayd] %s %s failed after retries: %v", method, target, err)
		return c.Status(fiber.StatusBadGateway).SendString("Upstream error")
	}

	headers := translateHeaders(res.header, p.ttl)

	if cacheable && res.status >= 200 && res.status < 300 {
		entry := cachedResponse{Status: res.status, Headers: headers, Body: res.body}
		if data, merr := json.Marshal(entry); merr == nil {
			if serr := p.store.Set(c.UserContext(), cacheKey, data, p.ttl); serr != nil {
				logReq("[relayd][cache] store key=%s failed: %v", cacheKey, serr)
			}
		}
	}

	return writeResponse(c, res.status, headers, res.body)
}

// fetch invokes the forwarder, optionally coalescing concurrent misses for
// one key into a single upstream call. Without single-flight two concurrent
// misses both go upstream and the last writer populates the cache.
func (p *proxy) fetch(key, method, target, accept string) (*forwardResult, error) {
	if p.group == nil {
		return p.fwd.forward(method, target, accept)
	}
	v, err, _ := p.group.Do(key, func() (any, error) {
		return p.fwd.forward(method, target, accept)
	})
	if err != nil {
		return nil, err
	}
	return v.(*forwardResult), nil
}
