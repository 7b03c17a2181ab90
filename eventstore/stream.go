package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cannahum/eventsourcing-lite/event"
)

// StreamRecord is an event item written by DynamoDBStore as seen on the
// table's change stream (DynamoDB Streams or its Kinesis forwarder).
type StreamRecord struct {
	AggregateID       string
	Version           uint64
	ApproximateCreate time.Time
	Event             event.DomainEvent
}

type streamEnvelope struct {
	EventName string `json:"eventName"`
	DynamoDB  *struct {
		ApproximateCreationDateTime json.Number                `json:"ApproximateCreationDateTime"`
		NewImage                    map[string]streamAttribute `json:"NewImage"`
	} `json:"dynamodb"`
}

type streamAttribute struct {
	S *string `json:"S,omitempty"`
	N *string `json:"N,omitempty"`
	B []byte  `json:"B,omitempty"`
}

// ErrNotAnInsert is returned for stream records that do not add an event
var ErrNotAnInsert = errors.New("stream record is not an insert")

// DecodeStreamRecord extracts the event carried by one change stream record of the store's table.
// Events are append only, so anything but an INSERT is rejected with ErrNotAnInsert.
func (s *DynamoDBStore) DecodeStreamRecord(data []byte) (StreamRecord, error) {
	var envelope streamEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return StreamRecord{}, fmt.Errorf("could not parse stream record: %w", err)
	}
	if envelope.DynamoDB == nil {
		return StreamRecord{}, errors.New("stream record has no dynamodb section")
	}
	if envelope.EventName != "" && envelope.EventName != "INSERT" {
		return StreamRecord{}, fmt.Errorf("%w: %s", ErrNotAnInsert, envelope.EventName)
	}

	image := envelope.DynamoDB.NewImage
	id := image[s.hashKey].S
	if id == nil {
		return StreamRecord{}, fmt.Errorf("new image has no string %s attribute", s.hashKey)
	}
	n := image[s.rangeKey].N
	if n == nil {
		return StreamRecord{}, fmt.Errorf("new image has no numeric %s attribute", s.rangeKey)
	}
	version, err := strconv.ParseUint(*n, 10, 64)
	if err != nil {
		return StreamRecord{}, fmt.Errorf("invalid %s attribute %q: %w", s.rangeKey, *n, err)
	}

	e, err := s.serializer.UnmarshalEvent(Record{Version: version, Data: image["event_data"].B})
	if err != nil {
		return StreamRecord{}, err
	}

	record := StreamRecord{AggregateID: *id, Version: version, Event: e}
	if created, err := envelope.DynamoDB.ApproximateCreationDateTime.Float64(); err == nil {
		record.ApproximateCreate = time.UnixMilli(int64(created * 1000)).UTC()
	}
	return record, nil
}
