package lark

import (
	"context"
	"sync"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"

	"github.com/linnemanlabs/go-core/log"
)

const maxCachedNames = 4096

// userAPI is the subset of the contact user service used for names.
// *lark.Client's Contact.User satisfies it.
type userAPI interface {
	Get(ctx context.Context, req *larkcontact.GetUserReq, options ...larkcore.RequestOptionFunc) (*larkcontact.GetUserResp, error)
}

// ContactNames resolves open_ids to display names through the contact API
// and caches hits. Lookups that fail return "" and are retried next time.
type ContactNames struct {
	api     userAPI
	timeout time.Duration
	logger  log.Logger

	mu    sync.Mutex
	cache map[string]string
}

var _ NameResolver = (*ContactNames)(nil)

// NewContactNames creates a resolver.
func NewContactNames(api userAPI, timeout time.Duration, logger log.Logger) *ContactNames {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &ContactNames{api: api, timeout: timeout, logger: logger, cache: make(map[string]string)}
}

// Name returns the user's display name or "".
func (c *ContactNames) Name(ctx context.Context, openID string) string {
	c.mu.Lock()
	name, ok := c.cache[openID]
	c.mu.Unlock()
	if ok {
		return name
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := larkcontact.NewGetUserReqBuilder().
		UserId(openID).
		UserIdType("open_id").
		Build()
	resp, err := c.api.Get(ctx, req)
	if err != nil {
		c.logger.Warn(ctx, "contact lookup failed", "sender_id", openID, "error", err)
		return ""
	}
	if !resp.Success() || resp.Data == nil || resp.Data.User == nil {
		c.logger.Warn(ctx, "contact lookup rejected", "sender_id", openID, "code", resp.Code, "msg", resp.Msg)
		return ""
	}
	name = deref(resp.Data.User.Name)
	if name == "" {
		return ""
	}

	c.mu.Lock()
	if len(c.cache) >= maxCachedNames {
		clear(c.cache)
	}
	c.cache[openID] = name
	c.mu.Unlock()
	return name
}
