package cache

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
)

func encodeEntry(id string, fields map[string]any) (json.RawMessage, error) {
	entry := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		entry[key] = value
	}
	if id != "" {
		entry[reminders.FieldID] = id
	}
	return json.Marshal(entry)
}

func decodeEntry(raw json.RawMessage) (string, map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", nil, err
	}
	if fields == nil {
		return "", nil, fmt.Errorf("cache: entry is not an object")
	}
	id, _ := fields[reminders.FieldID].(string)
	delete(fields, reminders.FieldID)
	return id, fields, nil
}

// GroupCodec stores groups as flat documents with an id field.
type GroupCodec struct{}

func (GroupCodec) Encode(group reminders.Group) (json.RawMessage, error) {
	return encodeEntry(group.ID, reminders.GroupFields(group))
}

func (GroupCodec) Decode(_ int, raw json.RawMessage) (reminders.Group, error) {
	id, fields, err := decodeEntry(raw)
	if err != nil {
		return reminders.Group{}, err
	}
	return reminders.GroupFromFields(id, fields)
}

// ItemCodec stores items as flat documents with an id field. Legacy snapshots
// carry the reminder time under the date field.
type ItemCodec struct{}

func (ItemCodec) Encode(item reminders.Item) (json.RawMessage, error) {
	return encodeEntry(item.ID, reminders.ItemFields(item))
}

func (ItemCodec) Decode(schemaVersion int, raw json.RawMessage) (reminders.Item, error) {
	id, fields, err := decodeEntry(raw)
	if err != nil {
		return reminders.Item{}, err
	}
	if schemaVersion == SchemaVersionLegacy {
		upgradeLegacyItem(fields)
	}
	return reminders.ItemFromFields(id, fields)
}

func upgradeLegacyItem(fields map[string]any) {
	if value, ok := fields[reminders.FieldRemindAt]; ok && value != nil {
		return
	}
	if legacy, ok := fields[reminders.FieldLegacyDate]; ok {
		fields[reminders.FieldRemindAt] = legacy
		delete(fields, reminders.FieldLegacyDate)
	}
}

// PreferencesCodec stores the preferences record. The sort option is kept as
// written so stale spellings remain visible to the migration.
type PreferencesCodec struct{}

func (PreferencesCodec) Encode(preferences reminders.Preferences) (json.RawMessage, error) {
	return encodeEntry("", reminders.PreferencesFields(preferences))
}

func (PreferencesCodec) Decode(_ int, raw json.RawMessage) (reminders.Preferences, error) {
	_, fields, err := decodeEntry(raw)
	if err != nil {
		return reminders.Preferences{}, err
	}
	return reminders.PreferencesFromFields(fields), nil
}

// NewGroups returns the typed group snapshot view.
func NewGroups(store *Store) *Collection[reminders.Group] {
	return NewCollection[reminders.Group](store, KindGroups, GroupCodec{})
}

// NewItems returns the typed item snapshot view.
func NewItems(store *Store) *Collection[reminders.Item] {
	return NewCollection[reminders.Item](store, KindItems, ItemCodec{})
}

// NewPreferences returns the typed preferences view.
func NewPreferences(store *Store) *Value[reminders.Preferences] {
	return NewValue[reminders.Preferences](store, KindPreferences, PreferencesCodec{})
}
