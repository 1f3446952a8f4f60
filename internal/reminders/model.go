package reminders

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("reminders: invalid user id")
	// ErrInvalidGroupID indicates that a group identifier is empty or exceeds storage bounds.
	ErrInvalidGroupID = errors.New("reminders: invalid group id")
	// ErrInvalidItemID indicates that an item identifier is empty or exceeds storage bounds.
	ErrInvalidItemID = errors.New("reminders: invalid item id")
	// ErrInvalidTimestamp indicates that a timestamp cannot be reconstructed.
	ErrInvalidTimestamp = errors.New("reminders: invalid timestamp")
)

// Collection names inside a user's document hierarchy.
const (
	CollectionGroups  = "groups"
	CollectionItems   = "items"
	CollectionProfile = "profile"

	// ProfileDocumentID is the single document holding a user's profile and preferences.
	ProfileDocumentID = "settings"
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidUserID)
	if err != nil {
		return "", err
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// NewGroupID validates a raw group identifier.
func NewGroupID(rawInput string) (string, error) {
	return validateIdentifier(rawInput, ErrInvalidGroupID)
}

// NewItemID validates a raw item identifier.
func NewItemID(rawInput string) (string, error) {
	return validateIdentifier(rawInput, ErrInvalidItemID)
}

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// Group is a user-ordered container of items.
type Group struct {
	ID       string
	Name     string
	Color    string
	Position float64
}

// Item is a dated note. A nil GroupID marks the item as ungrouped.
type Item struct {
	ID            string
	Title         string
	Content       *string
	GroupID       *string
	RemindAt      Timestamp
	NotifyEnabled bool
	NextNotifyAt  *Timestamp
	NotifyTiming  NotifyTiming
	UpdatedAt     *Timestamp
}

// InGroup reports whether the item belongs to the provided group.
func (item Item) InGroup(groupID string) bool {
	return item.GroupID != nil && *item.GroupID == groupID
}

// Preferences holds the per-user settings duplicated into the local cache.
type Preferences struct {
	ItemSortOption SortOption
}

// DefaultPreferences returns the preferences used before any profile has been read.
func DefaultPreferences() Preferences {
	return Preferences{ItemSortOption: SortDateAsc}
}

// StringPointer returns a pointer to a copy of value.
func StringPointer(value string) *string {
	v := value
	return &v
}
