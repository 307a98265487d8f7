// Package policy implements the cache router: an ordered, immutable table of [Rule] values and
// the first-match dispatch over it.
//
// # Routing
//
// [Router.Route] walks the table in declaration order and returns the first rule whose [Matcher]
// accepts the URL. Rules never merge; a URL that matches nothing yields no decision and the caller
// passes the request straight through to the network. URLs without a host, and raw strings that
// fail to parse ([Router.RouteString]), are also "no decision" rather than errors.
//
// # Default Table
//
// [DefaultRules] reproduces the visualizer's service-worker policy:
//
//	 1. *.googleapis.com (except fonts)     NetworkOnly
//	 2. accounts.google.com                 NetworkOnly
//	 3. fonts.gstatic.com                   CacheFirst            google-fonts-webfonts     4 / 365d
//	 4. fonts.googleapis.com                StaleWhileRevalidate  google-fonts-stylesheets  4 / 7d
//	 5. jpg jpeg gif png svg ico webp       StaleWhileRevalidate  static-image-assets       64 / 1d
//	 6. js                                  StaleWhileRevalidate  static-js-assets          32 / 1d
//	 7. css less                            StaleWhileRevalidate  static-style-assets       32 / 1d
//	 8. json xml csv                        NetworkFirst          static-data-assets        32 / 1d
//	 9. same origin                         NetworkFirst (10s)    others                    32 / 1d
//	10. cross origin                        NetworkFirst (10s)    cross-origin              32 / 1h
//
// The data bucket deliberately carries no network timeout while the two catch-all buckets do.
//
// # Rule Files
//
// [LoadRules] reads an alternative table from TOML or YAML. The table is read once at startup;
// the resulting [Router] copies it and never hands out a mutable reference.
package policy
