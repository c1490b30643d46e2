package config

import (
	"sort"
	"strings"
)

const allowedOriginsVar = "ALLOWED_ORIGINS"

type Cors struct {
	Origins AllowedOrigins
}

var _ CorsConfig = Cors{}

// AllowedOrigins is the set of origins trusted to call the session-mutating endpoints.
type AllowedOrigins map[string]struct{}
type nullValue = struct{}

// ParseAllowedOrigins reads a comma separated list such as
// "https://ops.example-hotel.com, http://localhost:3000".
func ParseAllowedOrigins(list string) AllowedOrigins {
	origins := AllowedOrigins{}
	for _, o := range strings.Split(list, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		origins[strings.ToLower(o)] = nullValue{}
	}
	return origins
}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	sort.Strings(origins)
	return strings.Join(origins, ", ")
}

func defaultCors() Cors {
	return Cors{Origins: ParseAllowedOrigins("http://localhost:3000,http://localhost:8080")}
}

func loadCors() Cors {
	list := GetEnv(allowedOriginsVar, "")
	if list == "" {
		return defaultCors()
	}
	return Cors{Origins: ParseAllowedOrigins(list)}
}

func (c Cors) GetAllowedOrigins() AllowedOrigins {
	if c.Origins == nil {
		return AllowedOrigins{}
	}
	return c.Origins
}

func (Cors) GetAllowedMethods() string {
	return "GET, POST, OPTIONS"
}

func (Cors) GetAllowedHeaders() string {
	return "Content-Type, X-Request-ID"
}
