package ui

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/swcache/internal/cache"
	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
)

const previewLimit = 512

// ViewState represents the current view in the TUI.
type ViewState int

const (
	BucketListView ViewState = iota
	EntryListView
	EntryDetailView
	ConfirmPurgeView
)

// Model is the bucket inspector's state.
type Model struct {
	ctx     context.Context
	view    ViewState
	storage cache.Storage
	clock   func() time.Time

	width  int
	height int

	bucketList list.Model
	entryList  list.Model
	bucket     string
	limits     policy.Expiration
	selected   *models.CacheEntry
	status     string
	err        error

	help help.Model
	keys keyMap
}

// NewModel creates an inspector over storage.
func NewModel(ctx context.Context, storage cache.Storage) *Model {
	return &Model{
		ctx:        ctx,
		view:       BucketListView,
		storage:    storage,
		clock:      time.Now,
		bucketList: list.New(nil, list.NewDefaultDelegate(), 0, 0),
		entryList:  list.New(nil, list.NewDefaultDelegate(), 0, 0),
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

// Init loads the bucket list.
func (m *Model) Init() tea.Cmd {
	return m.loadBuckets()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bucketList.SetSize(msg.Width-4, msg.Height-8)
		m.entryList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case BucketListView:
			return m.handleBucketListKeys(msg)
		case EntryListView:
			return m.handleEntryListKeys(msg)
		case EntryDetailView:
			return m.handleDetailKeys(msg)
		case ConfirmPurgeView:
			return m.handleConfirmKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgBucketsLoaded:
		data := msg.data.(bucketsLoaded)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, len(data.stats))
		for i, st := range data.stats {
			items[i] = bucketItem{stats: st}
		}
		m.bucketList.Title = "Cache Buckets"
		cmd := m.bucketList.SetItems(items)
		return m, cmd

	case MsgEntriesLoaded:
		data := msg.data.(entriesLoaded)
		if data.err != nil {
			m.err = data.err
			m.view = BucketListView
			return m, nil
		}
		m.err = nil
		m.bucket = data.bucket
		m.limits = data.limits

		now := m.clock()
		items := make([]list.Item, 0, len(data.entries))
		for _, e := range slices.Backward(data.entries) {
			items = append(items, entryItem{entry: e, expired: e.Expired(now, data.limits.MaxAge()), now: now})
		}
		m.entryList.Title = fmt.Sprintf("%s (most recent first)", data.bucket)
		cmd := m.entryList.SetItems(items)
		m.view = EntryListView
		return m, cmd

	case MsgBucketPurged:
		data := msg.data.(bucketPurged)
		m.view = BucketListView
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.status = fmt.Sprintf("Purged %s", data.bucket)
		return m, m.loadBuckets()
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.err))
	}

	switch m.view {
	case BucketListView:
		return m.renderBucketList()
	case EntryListView:
		return m.renderEntryList()
	case EntryDetailView:
		return m.renderDetail()
	case ConfirmPurgeView:
		return m.renderConfirm()
	default:
		return ""
	}
}

func (m *Model) handleBucketListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.bucketList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.bucketList, cmd = m.bucketList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		m.err, m.status = nil, ""
		return m, m.loadBuckets()
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.bucketList.SelectedItem().(bucketItem); ok {
			return m, m.loadEntries(item.stats.Name)
		}
	case key.Matches(msg, m.keys.purge):
		if item, ok := m.bucketList.SelectedItem().(bucketItem); ok {
			m.bucket = item.stats.Name
			m.view = ConfirmPurgeView
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.bucketList, cmd = m.bucketList.Update(msg)
	return m, cmd
}

func (m *Model) handleEntryListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.entryList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.entryList, cmd = m.entryList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = BucketListView
		return m, m.loadBuckets()
	case key.Matches(msg, m.keys.refresh):
		return m, m.loadEntries(m.bucket)
	case key.Matches(msg, m.keys.purge):
		m.view = ConfirmPurgeView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.entryList.SelectedItem().(entryItem); ok {
			m.selected = item.entry
			m.view = EntryDetailView
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.entryList, cmd = m.entryList.Update(msg)
	return m, cmd
}

func (m *Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.selected = nil
		m.view = EntryListView
	}
	return m, nil
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		return m, m.purgeBucket(m.bucket)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.view = BucketListView
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case BucketListView:
		m.bucketList, cmd = m.bucketList.Update(msg)
	case EntryListView:
		m.entryList, cmd = m.entryList.Update(msg)
	}
	return m, cmd
}

func (m *Model) loadBuckets() tea.Cmd {
	return func() tea.Msg {
		stats, err := m.storage.List(m.ctx)
		return bucketsLoadedMsg(stats, err)
	}
}

func (m *Model) loadEntries(name string) tea.Cmd {
	return func() tea.Msg {
		b, err := m.storage.Existing(m.ctx, name)
		if err != nil {
			return entriesLoadedMsg(name, policy.Expiration{}, nil, err)
		}
		entries, err := b.Entries(m.ctx)
		return entriesLoadedMsg(name, b.Limits(), entries, err)
	}
}

func (m *Model) purgeBucket(name string) tea.Cmd {
	return func() tea.Msg {
		b, err := m.storage.Existing(m.ctx, name)
		if err != nil {
			return bucketPurgedMsg(name, err)
		}
		return bucketPurgedMsg(name, b.Purge(m.ctx))
	}
}

func (m *Model) renderBucketList() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.purge, m.keys.refresh, m.keys.quit})
	out := m.bucketList.View()
	if m.status != "" {
		out = fmt.Sprintf("%s\n%s", out, styles.ok.Render(m.status))
	}
	return fmt.Sprintf("%s\n\n%s", out, helpView)
}

func (m *Model) renderEntryList() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.back, m.keys.purge, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.entryList.View(), helpView)
}

func (m *Model) renderDetail() string {
	e := m.selected
	if e == nil {
		return ""
	}
	now := m.clock()

	var b strings.Builder
	b.WriteString(styles.title.Render(e.Key))
	b.WriteString("\n")

	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", styles.label.Render(label), value)
	}
	row("Bucket", m.bucket)
	row("Status", fmt.Sprint(e.Status))
	row("Size", shared.FormatBytes(e.Size()))
	row("Stored", fmt.Sprintf("%s (%s ago)", e.StoredAt.Local().Format(time.DateTime), e.Age(now).Round(time.Second)))
	row("Accessed", e.AccessedAt.Local().Format(time.DateTime))
	if e.Expired(now, m.limits.MaxAge()) {
		row("Expiry", styles.warn.Render("expired"))
	} else if m.limits.MaxAgeSeconds > 0 {
		row("Expiry", fmt.Sprintf("in %s", (m.limits.MaxAge()-e.Age(now)).Round(time.Second)))
	}

	b.WriteString("\n")
	names := make([]string, 0, len(e.Header))
	for name := range e.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\n", styles.help.Render(name), strings.Join(e.Header[name], ", "))
	}

	if preview := bodyPreview(e); preview != "" {
		fmt.Fprintf(&b, "\n%s\n", preview)
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit}))
	return b.String()
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Purge every entry in '%s'?", m.bucket))
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s", title, helpView)
}

// bodyPreview returns the start of a textual body, or "" for binary content.
func bodyPreview(e *models.CacheEntry) string {
	body := e.Body
	if len(body) == 0 || !utf8.Valid(body) {
		return ""
	}
	if len(body) > previewLimit {
		body = body[:previewLimit]
		return string(body) + styles.help.Render(" …")
	}
	return string(body)
}
