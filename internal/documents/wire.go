package documents

import (
	"errors"
	"net/http"
	"time"
)

// WireDocument is the JSON form of a Document.
type WireDocument struct {
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"update_time"`
}

// WireWrite is the JSON form of a Write.
type WireWrite struct {
	Collection       string         `json:"collection"`
	ID               string         `json:"id"`
	Data             map[string]any `json:"data,omitempty"`
	Merge            bool           `json:"merge,omitempty"`
	Delete           bool           `json:"delete,omitempty"`
	ServerTimestamps []string       `json:"server_timestamps,omitempty"`
}

// WireError is the JSON body of a failed request.
type WireError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ToWire converts a Document.
func ToWire(document Document) WireDocument {
	data := document.Data
	if data == nil {
		data = map[string]any{}
	}
	return WireDocument{
		ID:         document.ID,
		Data:       data,
		CreateTime: document.CreateTime.UTC(),
		UpdateTime: document.UpdateTime.UTC(),
	}
}

// FromWire converts a WireDocument.
func FromWire(document WireDocument) Document {
	return Document{
		ID:         document.ID,
		Data:       document.Data,
		CreateTime: document.CreateTime,
		UpdateTime: document.UpdateTime,
	}
}

// WriteToWire converts a Write.
func WriteToWire(write Write) WireWrite {
	return WireWrite{
		Collection:       write.Collection,
		ID:               write.DocID,
		Data:             write.Data,
		Merge:            write.Merge,
		Delete:           write.Delete,
		ServerTimestamps: write.ServerTimestamps,
	}
}

// WriteFromWire converts a WireWrite.
func WriteFromWire(write WireWrite) Write {
	return Write{
		Collection:       write.Collection,
		DocID:            write.ID,
		Data:             write.Data,
		Merge:            write.Merge,
		Delete:           write.Delete,
		ServerTimestamps: write.ServerTimestamps,
	}
}

// HTTPStatus maps a store error onto an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidCollection),
		errors.Is(err, ErrInvalidDocumentID),
		errors.Is(err, ErrInvalidUserID),
		errors.Is(err, ErrInvalidField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
