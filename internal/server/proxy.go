package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strings"

	"github.com/54b3r/postsearch-go/internal/logging"
)

// proxyPrefix is the local mount point of the API proxy.
const proxyPrefix = "/api/proxy/"

// proxyForwardHeaders are the only request headers sent upstream.
var proxyForwardHeaders = []string{"Content-Type", "Authorization", "Cookie", "User-Agent", "Accept"}

var (
	cookieDomainAttr   = regexp.MustCompile(`(?i)Domain=[^;]+;?`)
	cookieSameSiteAttr = regexp.MustCompile(`(?i)SameSite=[^;]+;?`)
)

// newProxy returns a handler forwarding /api/proxy/<path>?<query> to
// <target>/api/<path>?<query>. Set-Cookie headers are rewritten for the
// local origin and upstream CORS headers are dropped. Redirects are passed
// through to the client unchanged.
func newProxy(target string) (http.Handler, error) {
	base, err := url.Parse(strings.TrimRight(target, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("server: invalid proxy target %q", target)
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			rest := strings.TrimPrefix(pr.In.URL.Path, proxyPrefix)
			pr.Out.URL.Scheme = base.Scheme
			pr.Out.URL.Host = base.Host
			pr.Out.URL.Path = base.Path + "/api/" + rest
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Host = base.Host

			pr.Out.Header = make(http.Header, len(proxyForwardHeaders))
			for _, h := range proxyForwardHeaders {
				if v := pr.In.Header.Values(h); len(v) > 0 {
					pr.Out.Header[h] = v
				}
			}
			if pr.Out.Header.Get("User-Agent") == "" {
				// ReverseProxy would otherwise send Go's default agent.
				pr.Out.Header.Set("User-Agent", "")
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			cookies := resp.Header.Values("Set-Cookie")
			if len(cookies) > 0 {
				resp.Header.Del("Set-Cookie")
				for _, c := range cookies {
					resp.Header.Add("Set-Cookie", rewriteSetCookie(c))
				}
			}
			resp.Header.Del("Access-Control-Allow-Origin")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.FromContext(r.Context()).Error("proxy: upstream request failed", slog.Any("error", err))
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "Proxy failed",
				"details": err.Error(),
			})
		},
	}
	return rp, nil
}

// rewriteSetCookie strips Domain and SameSite attributes and pins
// SameSite=Lax so the cookie binds to the proxying origin.
func rewriteSetCookie(c string) string {
	c = cookieDomainAttr.ReplaceAllString(c, "")
	c = cookieSameSiteAttr.ReplaceAllString(c, "")
	c = strings.TrimRight(strings.TrimSpace(c), ";")
	return strings.TrimSpace(c) + "; SameSite=Lax"
}
