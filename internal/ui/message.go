package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgBucketsLoaded MsgKind = iota
	MsgEntriesLoaded
	MsgBucketPurged
)

type bucketsLoaded struct {
	stats []models.BucketStats
	err   error
}

type entriesLoaded struct {
	bucket  string
	limits  policy.Expiration
	entries []*models.CacheEntry
	err     error
}

type bucketPurged struct {
	bucket string
	err    error
}

// bucketsLoadedMsg is the constructor for [MsgBucketsLoaded]
func bucketsLoadedMsg(stats []models.BucketStats, err error) Msg {
	return Msg{kind: MsgBucketsLoaded, data: bucketsLoaded{stats, err}}
}

// entriesLoadedMsg is the constructor for [MsgEntriesLoaded]
func entriesLoadedMsg(bucket string, limits policy.Expiration, entries []*models.CacheEntry, err error) Msg {
	return Msg{kind: MsgEntriesLoaded, data: entriesLoaded{bucket, limits, entries, err}}
}

// bucketPurgedMsg is the constructor for [MsgBucketPurged]
func bucketPurgedMsg(bucket string, err error) Msg {
	return Msg{kind: MsgBucketPurged, data: bucketPurged{bucket, err}}
}
