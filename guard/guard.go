// Package guard decides, per page request, whether to serve the page or
// redirect, using only the tokens present in the request's cookies. It never
// calls the identity service and is not an authorization boundary for data;
// the gateways and the identity service check again.
package guard

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jrsteele09/hotel-ops-gateway/token"
)

const (
	PathRoot          = "/"
	PathLogin         = "/login"
	PathDashboard     = "/dashboard"
	CallbackParameter = "callbackUrl"
)

type RouteClass int

const (
	Other RouteClass = iota
	PublicAsset
	Root
	AuthPage
	Protected
)

func (c RouteClass) String() string {
	switch c {
	case PublicAsset:
		return "public-asset"
	case Root:
		return "root"
	case AuthPage:
		return "auth-page"
	case Protected:
		return "protected"
	}
	return "other"
}

var (
	authPages       = []string{PathLogin, "/register", "/forgot-password"}
	protectedRoots  = []string{PathDashboard}
	assetPrefixes   = []string{"/static/", "/assets/", "/images/", "/fonts/", "/_next/"}
	assetFiles      = map[string]bool{"/favicon.ico": true, "/robots.txt": true, "/manifest.json": true, "/sitemap.xml": true}
	assetExtensions = map[string]bool{
		".css": true, ".js": true, ".map": true, ".png": true, ".jpg": true, ".jpeg": true,
		".gif": true, ".svg": true, ".ico": true, ".webp": true, ".woff": true, ".woff2": true,
		".ttf": true, ".txt": true, ".webmanifest": true,
	}
)

// Classify sorts a request path into the class the guard reasons about.
func Classify(p string) RouteClass {
	if p == "" {
		p = PathRoot
	}
	if assetFiles[p] || isAsset(p) {
		return PublicAsset
	}
	if p == PathRoot {
		return Root
	}
	for _, page := range authPages {
		if underPath(p, page) {
			return AuthPage
		}
	}
	for _, root := range protectedRoots {
		if underPath(p, root) {
			return Protected
		}
	}
	return Other
}

func isAsset(p string) bool {
	for _, prefix := range assetPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return assetExtensions[strings.ToLower(path.Ext(p))]
}

// underPath matches root itself and its descendants, not siblings sharing a prefix.
func underPath(p, root string) bool {
	p = strings.TrimSuffix(p, "/")
	return p == root || strings.HasPrefix(p, root+"/")
}

// IsAuthenticated treats a request as authenticated when it carries a usable
// access token or any refresh token; the client can rotate the latter silently.
func IsAuthenticated(accessToken, refreshToken string, now time.Time) bool {
	if accessToken != "" && !token.IsExpiredAt(accessToken, token.DefaultSkew, now) {
		return true
	}
	return refreshToken != ""
}

type Action int

const (
	Pass Action = iota
	RedirectToLogin
	RedirectToApp
)

func (a Action) String() string {
	switch a {
	case RedirectToLogin:
		return "redirect-to-login"
	case RedirectToApp:
		return "redirect-to-app"
	}
	return "pass"
}

// Decision is the guard's verdict. Location is set for redirects.
type Decision struct {
	Action   Action
	Class    RouteClass
	Location string
}

// Decide is a pure function of the path and the tokens on the request.
func Decide(p, accessToken, refreshToken string, now time.Time) Decision {
	class := Classify(p)
	switch class {
	case PublicAsset, Other:
		return Decision{Action: Pass, Class: class}
	}

	authenticated := IsAuthenticated(accessToken, refreshToken, now)
	switch {
	case class == Protected && !authenticated:
		return Decision{Action: RedirectToLogin, Class: class, Location: LoginURL(p)}
	case (class == Root || class == AuthPage) && authenticated:
		return Decision{Action: RedirectToApp, Class: class, Location: PathDashboard}
	}
	return Decision{Action: Pass, Class: class}
}

// LoginURL builds the login location carrying the original path as callback.
func LoginURL(callback string) string {
	q := url.Values{}
	q.Set(CallbackParameter, callback)
	return PathLogin + "?" + q.Encode()
}
