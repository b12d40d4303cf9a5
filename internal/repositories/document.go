package repositories

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Field names the JSON backends manage on every document.
const (
	idField        = "id"
	createdAtField = "createdAt"
	updatedAtField = "updatedAt"
)

// document is the JSON object form of a record. The datastore, SQL and
// Reindexer backends stamp identifiers and timestamps on it, which works
// for any record type whose JSON encoding is an object.
type document map[string]any

func encodeDocument[T any](record T) (document, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return parseDocument(raw)
}

func parseDocument(raw []byte) (document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("record must encode to a JSON object")
	}
	return doc, nil
}

func decodeDocument[T any](doc document) (T, error) {
	var record T
	raw, err := json.Marshal(doc)
	if err != nil {
		return record, fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}

func decodeRaw[T any](raw []byte) (T, error) {
	var record T
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}

// id returns the identifier carried by the document, if any.
func (d document) id() string {
	if v, ok := d[idField].(string); ok {
		return v
	}
	return ""
}

// stampNew assigns an identifier unless the payload brought one and sets
// both timestamps. It returns the identifier.
func (o options) stampNew(doc document) string {
	id := doc.id()
	if id == "" {
		id = o.newID()
		doc[idField] = id
	}
	if o.timestamps {
		now := o.now().Format(time.RFC3339Nano)
		doc[createdAtField] = now
		doc[updatedAtField] = now
	}
	return id
}

// stampReplace pins the identifier of a replacement and carries createdAt
// over from the document it replaces.
func (o options) stampReplace(doc document, id string, previous document) {
	doc[idField] = id
	if !o.timestamps {
		return
	}
	if created, ok := previous[createdAtField]; ok {
		doc[createdAtField] = created
	} else {
		delete(doc, createdAtField)
	}
	doc[updatedAtField] = o.now().Format(time.RFC3339Nano)
}
