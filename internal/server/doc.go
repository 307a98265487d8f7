// Package server exposes the strategy engine as a caching HTTP proxy.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally.
//
// # Proxying
//
// [ProxyHandler] owns every path outside the admin prefix. Absolute-form request targets
// (a browser configured to use the proxy) are fetched as-is; origin-form targets are resolved
// against the configured app origin. Responses carry X-Cache, X-Cache-Bucket and X-Cache-Rule.
//
// # Admin API
//
// [AdminHandler] serves JSON under /_swcache/:
//
//	GET    /_swcache/rules
//	GET    /_swcache/route?url=
//	GET    /_swcache/buckets
//	GET    /_swcache/buckets/{name}
//	DELETE /_swcache/buckets/{name}
//	POST   /_swcache/sweep
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
