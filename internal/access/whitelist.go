// Package access holds the authorization whitelist: maintainers may manage
// the bot and grant admins, admins may manage jobs and groups, groups are the
// chats the bot will broadcast to.
package access

import (
	"errors"
	"slices"
	"sort"
	"sync"
)

var (
	ErrUnknownAdmin = errors.New("admin not in whitelist")
	ErrUnknownGroup = errors.New("group not in whitelist")
)

// Snapshot is a copyable view of the whitelist, used for persistence and
// display.
type Snapshot struct {
	Maintainers []int64
	Admins      []int64
	Groups      []int64
}

// Whitelist is safe for concurrent use. All id slices are kept sorted so
// membership checks are binary searches.
type Whitelist struct {
	mu          sync.RWMutex
	maintainers []int64
	admins      []int64
	groups      []int64

	// rev increments on every mutation; persistence uses it to skip
	// flushing an unchanged whitelist.
	rev uint64
}

func New() *Whitelist { return &Whitelist{} }

// Seed replaces the whole whitelist, e.g. from config or storage at startup.
func (w *Whitelist) Seed(s Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maintainers = sortedCopy(s.Maintainers)
	w.admins = sortedCopy(s.Admins)
	w.groups = sortedCopy(s.Groups)
	w.rev++
}

// HasAccess reports whether the user may manage jobs (maintainer or admin).
func (w *Whitelist) HasAccess(userID int64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return contains(w.maintainers, userID) || contains(w.admins, userID)
}

// IsMaintainer reports whether the user may manage admins.
func (w *Whitelist) IsMaintainer(userID int64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return contains(w.maintainers, userID)
}

// AddAdmin grants admin rights. Adding an existing admin is a no-op.
func (w *Whitelist) AddAdmin(userID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.admins = insert(w.admins, userID, &w.rev)
}

func (w *Whitelist) DelAdmin(userID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, ok := remove(w.admins, userID)
	if !ok {
		return ErrUnknownAdmin
	}
	w.admins = next
	w.rev++
	return nil
}

// AddGroup registers a destination chat. Adding an existing group is a no-op.
func (w *Whitelist) AddGroup(chatID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.groups = insert(w.groups, chatID, &w.rev)
}

func (w *Whitelist) DelGroup(chatID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, ok := remove(w.groups, chatID)
	if !ok {
		return ErrUnknownGroup
	}
	w.groups = next
	w.rev++
	return nil
}

// Groups returns a copy of the destination chat ids.
func (w *Whitelist) Groups() []int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]int64(nil), w.groups...)
}

// Snapshot returns a copy of the whole whitelist and its revision counter.
func (w *Whitelist) Snapshot() (Snapshot, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Snapshot{
		Maintainers: append([]int64(nil), w.maintainers...),
		Admins:      append([]int64(nil), w.admins...),
		Groups:      append([]int64(nil), w.groups...),
	}, w.rev
}

// sortedCopy sorts and deduplicates; a seed merged from config and storage
// may list the same id twice.
func sortedCopy(in []int64) []int64 {
	out := append([]int64(nil), in...)
	slices.Sort(out)
	return slices.Compact(out)
}

func contains(s []int64, v int64) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	return i < len(s) && s[i] == v
}

func insert(s []int64, v int64, rev *uint64) []int64 {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	if i < len(s) && s[i] == v {
		return s
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	*rev++
	return s
}

func remove(s []int64, v int64) ([]int64, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= v })
	if i >= len(s) || s[i] != v {
		return s, false
	}
	return append(s[:i], s[i+1:]...), true
}
