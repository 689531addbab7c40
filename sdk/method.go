package sdk

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultNamespace is the namespace of call names without an explicit one.
const DefaultNamespace = "taobao"

// routerPath is appended to every gateway domain.
const routerPath = "/router/rest"

// MethodName translates a call name into the qualified remote method.
// The text before the first "__" selects the namespace and underscores in
// the next segment become dots. Anything after a second "__" is ignored.
//
//	MethodName("item_get")         // "taobao.item.get"
//	MethodName("tmall__item_get")  // "tmall.item.get"
//	MethodName("taobao__item_get") // "taobao.item.get"
//	MethodName("a__b__c")          // "a.b"
func MethodName(name string) string {
	namespace, tail := DefaultNamespace, name
	if parts := strings.SplitN(name, "__", 3); len(parts) > 1 {
		namespace, tail = parts[0], parts[1]
	}
	return namespace + "." + strings.ReplaceAll(tail, "_", ".")
}

// ResolveEndpoint turns a configured domain into the router URL. The scheme
// defaults to http, a trailing slash is dropped and user info is kept.
//
//	ResolveEndpoint("gw.api.taobao.com")   // "http://gw.api.taobao.com/router/rest"
//	ResolveEndpoint("https://eco.taobao.com/") // "https://eco.taobao.com/router/rest"
func ResolveEndpoint(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", fmt.Errorf("%w: domain cannot be empty", ErrInvalidConfig)
	}
	if !strings.Contains(domain, "://") {
		domain = "http://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil {
		return "", fmt.Errorf("%w: invalid domain %q: %v", ErrInvalidConfig, domain, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: domain %q has no host", ErrInvalidConfig, domain)
	}
	u.Path = strings.TrimRight(u.Path, "/") + routerPath
	u.RawPath = ""
	return u.String(), nil
}
