package reminders

import (
	"errors"
	"fmt"
)

// Document field names.
const (
	FieldID             = "id"
	FieldName           = "name"
	FieldColor          = "color"
	FieldPosition       = "position"
	FieldTitle          = "title"
	FieldContent        = "content"
	FieldGroupID        = "group_id"
	FieldRemindAt       = "remindAt"
	FieldLegacyDate     = "date"
	FieldNotifyEnabled  = "notifyEnabled"
	FieldNextNotifyAt   = "nextNotifyAt"
	FieldNotifyTiming   = "notifyTiming"
	FieldUpdatedAt      = "updatedAt"
	FieldItemSortOption = "itemSortOption"
	FieldPushToken      = "pushToken"
)

// ErrInvalidDocument indicates that stored fields cannot be decoded into an entity.
var ErrInvalidDocument = errors.New("reminders: invalid document")

// GroupFields renders a group as document fields, without the identifier.
func GroupFields(group Group) map[string]any {
	return map[string]any{
		FieldName:     group.Name,
		FieldColor:    group.Color,
		FieldPosition: group.Position,
	}
}

// GroupFromFields decodes a group document.
func GroupFromFields(id string, fields map[string]any) (Group, error) {
	groupID, err := NewGroupID(id)
	if err != nil {
		return Group{}, err
	}
	position, ok := NumberAsFloat64(fields[FieldPosition])
	if !ok {
		return Group{}, fmt.Errorf("%w: group %s has no numeric position", ErrInvalidDocument, groupID)
	}
	name, _ := fields[FieldName].(string)
	color, _ := fields[FieldColor].(string)
	return Group{
		ID:       groupID,
		Name:     name,
		Color:    color,
		Position: position,
	}, nil
}

// ItemFields renders an item as document fields, without the identifier.
// Absent optional values are written as explicit nulls.
func ItemFields(item Item) map[string]any {
	fields := map[string]any{
		FieldTitle:         item.Title,
		FieldContent:       nil,
		FieldGroupID:       nil,
		FieldRemindAt:      item.RemindAt.Map(),
		FieldNotifyEnabled: item.NotifyEnabled,
		FieldNextNotifyAt:  nil,
		FieldNotifyTiming:  string(item.NotifyTiming),
	}
	if item.Content != nil {
		fields[FieldContent] = *item.Content
	}
	if item.GroupID != nil {
		fields[FieldGroupID] = *item.GroupID
	}
	if item.NextNotifyAt != nil {
		fields[FieldNextNotifyAt] = item.NextNotifyAt.Map()
	}
	if item.UpdatedAt != nil {
		fields[FieldUpdatedAt] = item.UpdatedAt.Map()
	}
	return fields
}

// ItemFromFields decodes an item document. The reminder time is read from
// remindAt and falls back to the legacy date field for records that have not
// been migrated yet.
func ItemFromFields(id string, fields map[string]any) (Item, error) {
	itemID, err := NewItemID(id)
	if err != nil {
		return Item{}, err
	}

	rawRemindAt, present := fields[FieldRemindAt]
	if !present || rawRemindAt == nil {
		rawRemindAt, present = fields[FieldLegacyDate]
	}
	if !present || rawRemindAt == nil {
		return Item{}, fmt.Errorf("%w: item %s has no reminder time", ErrInvalidDocument, itemID)
	}
	remindAt, err := TimestampFromValue(rawRemindAt)
	if err != nil {
		return Item{}, fmt.Errorf("%w: item %s: %v", ErrInvalidDocument, itemID, err)
	}

	item := Item{ID: itemID, RemindAt: remindAt}
	item.Title, _ = fields[FieldTitle].(string)
	if content, ok := fields[FieldContent].(string); ok {
		item.Content = StringPointer(content)
	}
	if groupID, ok := fields[FieldGroupID].(string); ok && groupID != "" {
		item.GroupID = StringPointer(groupID)
	}
	item.NotifyEnabled, _ = fields[FieldNotifyEnabled].(bool)
	timing, _ := fields[FieldNotifyTiming].(string)
	item.NotifyTiming = ParseNotifyTiming(timing)

	if raw, ok := fields[FieldNextNotifyAt]; ok && raw != nil {
		next, err := TimestampFromValue(raw)
		if err != nil {
			return Item{}, fmt.Errorf("%w: item %s next notification: %v", ErrInvalidDocument, itemID, err)
		}
		item.NextNotifyAt = &next
	}
	if raw, ok := fields[FieldUpdatedAt]; ok && raw != nil {
		updatedAt, err := TimestampFromValue(raw)
		if err != nil {
			return Item{}, fmt.Errorf("%w: item %s updated at: %v", ErrInvalidDocument, itemID, err)
		}
		item.UpdatedAt = &updatedAt
	}
	return item, nil
}

// PreferencesFields renders preferences as profile document fields.
func PreferencesFields(preferences Preferences) map[string]any {
	return map[string]any{
		FieldItemSortOption: string(preferences.ItemSortOption),
	}
}

// PreferencesFromFields decodes preferences from a profile document. The raw
// sort option is kept verbatim so callers can detect non-canonical values.
func PreferencesFromFields(fields map[string]any) Preferences {
	raw, _ := fields[FieldItemSortOption].(string)
	if raw == "" {
		return DefaultPreferences()
	}
	return Preferences{ItemSortOption: SortOption(raw)}
}
