package models

import (
	"time"
)

// Document is the unit of storage the coordination layer moves through
// adapters. The layer never interprets Fields; it only guarantees that a
// group of document writes sharing one transaction identifier lands
// atomically.
type Document struct {
	ID        string
	Fields    map[string]interface{}
	UpdatedAt time.Time
}

// Clone returns a deep-enough copy: Fields is copied one level so buffered
// write sets never alias caller maps.
func (d Document) Clone() Document {
	fields := make(map[string]interface{}, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return Document{
		ID:        d.ID,
		Fields:    fields,
		UpdatedAt: d.UpdatedAt,
	}
}
