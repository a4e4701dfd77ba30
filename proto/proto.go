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

import "github.com/google/uuid"

const (
	ReqIdKey = "req-id"

	// core property names present on every entity
	PropertyUUID     = "uuid"
	PropertyType     = "type"
	PropertyCreated  = "created"
	PropertyModified = "modified"
	PropertyName     = "name"

	TypeApplication = "application"
	TypeEntity      = "entity"
	TypeDynamic     = "dynamicentity"
)

// ManagementApplicationID owns the application entities themselves.
var ManagementApplicationID = uuid.MustParse("b6768a08-b5d5-11e3-a495-10ddb1de66c3")

type (
	AppID    = uuid.UUID
	EntityID = uuid.UUID
)
