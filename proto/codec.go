// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package proto

import (
	"fmt"

	"github.com/google/uuid"
	pb "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	rowType       = "type"
	rowCreated    = "created"
	rowModified   = "modified"
	rowProperties = "properties"
)

// MarshalEntity encodes the persisted row of e. The uuid is part of the key
// and is not repeated in the row.
func MarshalEntity(e *Entity) ([]byte, error) {
	props := e.Properties
	if props == nil {
		props = NewProperties()
	}
	row := &structpb.Struct{Fields: map[string]*structpb.Value{
		rowType:       structpb.NewStringValue(e.Type),
		rowCreated:    structpb.NewNumberValue(float64(e.Created)),
		rowModified:   structpb.NewNumberValue(float64(e.Modified)),
		rowProperties: structpb.NewListValue(props.toPairs()),
	}}
	return pb.MarshalOptions{Deterministic: true}.Marshal(row)
}

func UnmarshalEntity(id uuid.UUID, raw []byte) (*Entity, error) {
	row := &structpb.Struct{}
	if err := pb.Unmarshal(raw, row); err != nil {
		return nil, err
	}
	fields := row.GetFields()
	if _, ok := fields[rowType]; !ok {
		return nil, fmt.Errorf("entity row %s has no type", id)
	}
	props, err := propertiesFromPairs(fields[rowProperties].GetListValue())
	if err != nil {
		return nil, err
	}
	return &Entity{
		UUID:       id,
		Type:       fields[rowType].GetStringValue(),
		Created:    int64(fields[rowCreated].GetNumberValue()),
		Modified:   int64(fields[rowModified].GetNumberValue()),
		Properties: props,
		Typed:      true,
	}, nil
}

func MarshalValue(v Value) ([]byte, error) {
	return pb.MarshalOptions{Deterministic: true}.Marshal(v.ToStructpb())
}

func UnmarshalValue(raw []byte) (Value, error) {
	pv := &structpb.Value{}
	if err := pb.Unmarshal(raw, pv); err != nil {
		return Null(), err
	}
	return FromStructpb(pv)
}
