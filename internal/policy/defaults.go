package policy

import (
	"net/url"
	"time"
)

const (
	day  = 24 * 60 * 60
	hour = 60 * 60
)

// Bucket names used by [DefaultRules].
const (
	BucketFontFiles   = "google-fonts-webfonts"
	BucketFontSheets  = "google-fonts-stylesheets"
	BucketImages      = "static-image-assets"
	BucketScripts     = "static-js-assets"
	BucketStyles      = "static-style-assets"
	BucketData        = "static-data-assets"
	BucketOthers      = "others"
	BucketCrossOrigin = "cross-origin"
)

// DefaultRules returns the built-in table for an app served from origin.
func DefaultRules(origin *url.URL) []Rule {
	return []Rule{
		{
			Name:     "google-apis",
			Matcher:  HostSuffix(".googleapis.com", "fonts.googleapis.com"),
			Strategy: NetworkOnly,
		},
		{
			Name:     "google-accounts",
			Matcher:  Host("accounts.google.com"),
			Strategy: NetworkOnly,
		},
		{
			Name:       "google-fonts-webfonts",
			Matcher:    Host("fonts.gstatic.com"),
			Strategy:   CacheFirst,
			CacheName:  BucketFontFiles,
			Expiration: &Expiration{MaxEntries: 4, MaxAgeSeconds: 365 * day},
		},
		{
			Name:       "google-fonts-stylesheets",
			Matcher:    Host("fonts.googleapis.com"),
			Strategy:   StaleWhileRevalidate,
			CacheName:  BucketFontSheets,
			Expiration: &Expiration{MaxEntries: 4, MaxAgeSeconds: 7 * day},
		},
		{
			Name:       "static-image-assets",
			Matcher:    Extension("jpg", "jpeg", "gif", "png", "svg", "ico", "webp"),
			Strategy:   StaleWhileRevalidate,
			CacheName:  BucketImages,
			Expiration: &Expiration{MaxEntries: 64, MaxAgeSeconds: day},
		},
		{
			Name:       "static-js-assets",
			Matcher:    Extension("js"),
			Strategy:   StaleWhileRevalidate,
			CacheName:  BucketScripts,
			Expiration: &Expiration{MaxEntries: 32, MaxAgeSeconds: day},
		},
		{
			Name:       "static-style-assets",
			Matcher:    Extension("css", "less"),
			Strategy:   StaleWhileRevalidate,
			CacheName:  BucketStyles,
			Expiration: &Expiration{MaxEntries: 32, MaxAgeSeconds: day},
		},
		{
			Name:       "static-data-assets",
			Matcher:    Extension("json", "xml", "csv"),
			Strategy:   NetworkFirst,
			CacheName:  BucketData,
			Expiration: &Expiration{MaxEntries: 32, MaxAgeSeconds: day},
		},
		{
			Name:           "others",
			Matcher:        SameOrigin(origin),
			Strategy:       NetworkFirst,
			CacheName:      BucketOthers,
			Expiration:     &Expiration{MaxEntries: 32, MaxAgeSeconds: day},
			NetworkTimeout: 10 * time.Second,
		},
		{
			Name:           "cross-origin",
			Matcher:        CrossOrigin(origin),
			Strategy:       NetworkFirst,
			CacheName:      BucketCrossOrigin,
			Expiration:     &Expiration{MaxEntries: 32, MaxAgeSeconds: hour},
			NetworkTimeout: 10 * time.Second,
		},
	}
}

// DefaultRouter builds a [Router] over [DefaultRules].
func DefaultRouter(origin *url.URL) *Router {
	return MustRouter(DefaultRules(origin))
}
