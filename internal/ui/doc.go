// Package ui implements the cache inspector, a terminal interface built on bubbletea's Elm architecture.
//
// The inspector moves between four views:
//  1. [BucketListView] : every bucket with entry counts, size and limits
//  2. [EntryListView] : a bucket's entries, most recently used first
//  3. [EntryDetailView] : one entry's status, timestamps, headers and a body preview
//  4. [ConfirmPurgeView] : confirmation before emptying a bucket
//
// The [Model] reads straight from a [cache.Storage]; storage calls run as commands and report back through the Msg union.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, p, r, y/n, q) with contextual help from charmbracelet/bubbles/help.
package ui
