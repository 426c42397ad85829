// Package hookrunner builds and runs middleware chains from hook matchers.
package hookrunner

import (
	"context"
	"fmt"
	"regexp"

	pubhook "github.com/armatrix/mcp-agent-go/hook"
)

// Runner wraps requests in the middleware of every matching matcher.
// A nil *Runner forwards requests untouched.
type Runner struct {
	matchers []matcherEntry
}

type matcherEntry struct {
	method     pubhook.Method // empty = all methods
	pattern    *regexp.Regexp // nil = all names
	middleware []pubhook.Middleware
}

// New creates a Runner from public Matcher definitions. It returns nil when
// no matcher carries middleware, and an error if any pattern is invalid.
func New(matchers []pubhook.Matcher) (*Runner, error) {
	entries := make([]matcherEntry, 0, len(matchers))
	for i, m := range matchers {
		if len(m.Middleware) == 0 {
			continue
		}
		entry := matcherEntry{method: m.Method, middleware: m.Middleware}
		if m.Pattern != "" {
			re, err := regexp.Compile(m.Pattern)
			if err != nil {
				return nil, fmt.Errorf("matcher[%d]: invalid pattern %q: %w", i, m.Pattern, err)
			}
			entry.pattern = re
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &Runner{matchers: entries}, nil
}

// Run sends req through the matching middleware in registration order and
// finally to call. Matching uses req as it is on entry.
func (r *Runner) Run(ctx context.Context, req *pubhook.Request, call pubhook.Handler) (any, error) {
	if r == nil {
		return call(ctx, req)
	}
	chain := call
	mws := r.match(req)
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], chain
		chain = func(ctx context.Context, req *pubhook.Request) (any, error) {
			return mw(ctx, req, next)
		}
	}
	return chain(ctx, req)
}

func (r *Runner) match(req *pubhook.Request) []pubhook.Middleware {
	var out []pubhook.Middleware
	for _, entry := range r.matchers {
		if entry.method != "" && entry.method != req.Method {
			continue
		}
		if entry.pattern != nil && !entry.pattern.MatchString(req.Name) {
			continue
		}
		out = append(out, entry.middleware...)
	}
	return out
}
