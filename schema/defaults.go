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

package schema

import "github.com/cubefs/entitydb/proto"

// dictionary names used by the built in types
const (
	DictionaryCredentials    = "credentials"
	DictionaryPermissions    = "permissions"
	DictionaryRoleNames      = "rolenames"
	DictionaryOAuthProviders = "oauthproviders"
	DictionaryCounters       = "counters"
)

func str(name string, flags ...func(*PropertyInfo)) *PropertyInfo {
	return prop(name, proto.KindString, flags...)
}

func prop(name string, kind proto.Kind, flags ...func(*PropertyInfo)) *PropertyInfo {
	p := &PropertyInfo{Name: name, Kind: kind, Mutable: true}
	for _, f := range flags {
		f(p)
	}
	return p
}

func required(p *PropertyInfo)  { p.Required = true }
func immutable(p *PropertyInfo) { p.Mutable = false }
func indexed(p *PropertyInfo)   { p.Indexed = true }
func fulltext(p *PropertyInfo)  { p.Fulltext = true }
func basic(p *PropertyInfo)     { p.Basic = true }

func unique(p *PropertyInfo) {
	p.Unique = true
	p.Indexed = true
}

func alias(p *PropertyInfo) {
	p.Alias = true
	unique(p)
}

func defaultTypes() []*TypeInfo {
	return []*TypeInfo{
		{
			Name: proto.TypeApplication,
			Properties: []*PropertyInfo{
				str("name", required, immutable, alias, basic),
				str("title", indexed, fulltext),
				prop("accesstokenttl", proto.KindNumber),
				str("organization", indexed),
			},
			Dictionaries: []*DictionaryInfo{
				{Name: DictionaryCredentials, KeyKind: proto.KindString},
				{Name: DictionaryRoleNames, KeyKind: proto.KindString, ValueKind: proto.KindString},
				{Name: DictionaryCounters, KeyKind: proto.KindString, ValueKind: proto.KindNumber},
				{Name: DictionaryOAuthProviders, KeyKind: proto.KindString},
			},
		},
		{
			Name: "user",
			Properties: []*PropertyInfo{
				str("username", required, immutable, alias, basic),
				str("email", unique, basic),
				str("name", indexed, fulltext, basic),
				str("firstname", indexed),
				str("middlename", indexed),
				str("lastname", indexed),
				prop("activated", proto.KindBool, indexed),
				prop("disabled", proto.KindBool, indexed),
				str("picture"),
			},
			Collections: []*CollectionInfo{
				{Name: "groups", Type: "group", LinkedCollection: "users"},
				{Name: "roles", Type: "role", LinkedCollection: "users"},
				{Name: "devices", Type: "device", LinkedCollection: "users"},
				{Name: "activities", Type: "activity", Reversed: true, Sort: "published desc"},
				{Name: "feed", Type: "activity", Reversed: true, Sort: "published desc"},
			},
			Dictionaries: []*DictionaryInfo{
				{Name: DictionaryCredentials, KeyKind: proto.KindString},
				{Name: DictionaryPermissions, KeyKind: proto.KindString},
				{Name: DictionaryRoleNames, KeyKind: proto.KindString, ValueKind: proto.KindString},
				{Name: DictionaryOAuthProviders, KeyKind: proto.KindString},
			},
		},
		{
			Name: "group",
			Properties: []*PropertyInfo{
				str("path", required, alias, basic),
				str("title", indexed, fulltext),
			},
			Collections: []*CollectionInfo{
				{Name: "users", Type: "user", LinkedCollection: "groups"},
				{Name: "roles", Type: "role", LinkedCollection: "groups"},
				{Name: "activities", Type: "activity", Reversed: true, Sort: "published desc"},
			},
			Dictionaries: []*DictionaryInfo{
				{Name: DictionaryPermissions, KeyKind: proto.KindString},
				{Name: DictionaryRoleNames, KeyKind: proto.KindString, ValueKind: proto.KindString},
			},
		},
		{
			Name: "role",
			Properties: []*PropertyInfo{
				str("name", required, immutable, alias, basic),
				str("title", indexed, fulltext),
				prop("inactivity", proto.KindNumber, indexed),
			},
			Collections: []*CollectionInfo{
				{Name: "users", Type: "user", LinkedCollection: "roles"},
				{Name: "groups", Type: "group", LinkedCollection: "roles"},
			},
			Dictionaries: []*DictionaryInfo{
				{Name: DictionaryPermissions, KeyKind: proto.KindString},
			},
		},
		{
			Name:   "activity",
			Plural: "activities",
			Properties: []*PropertyInfo{
				str("verb", required, indexed),
				str("category", indexed),
				str("content", indexed, fulltext),
				str("title", indexed, fulltext),
				prop("published", proto.KindTime, indexed),
				prop("actor", proto.KindMap),
				prop("object", proto.KindMap),
				str("name", indexed, fulltext),
			},
		},
		{
			Name: "device",
			Properties: []*PropertyInfo{
				str("name", alias, basic),
			},
			Collections: []*CollectionInfo{
				{Name: "users", Type: "user", LinkedCollection: "devices"},
			},
		},
		{
			Name: "asset",
			Properties: []*PropertyInfo{
				str("path", required, alias, basic),
				str("name", indexed, fulltext),
				prop("owner", proto.KindUUID, indexed),
				str("content-type", indexed),
				prop("size", proto.KindNumber, indexed),
				str("etag"),
			},
		},
		{
			Name: "notification",
			Properties: []*PropertyInfo{
				prop("payloads", proto.KindMap, required),
				prop("queued", proto.KindTime, indexed),
				prop("started", proto.KindTime, indexed),
				prop("finished", proto.KindTime, indexed),
				prop("deliver", proto.KindTime, indexed),
				prop("expire", proto.KindTime, indexed),
				prop("canceled", proto.KindBool, indexed),
				str("errormessage"),
				str("name", indexed),
			},
		},
		{
			Name: "receipt",
			Properties: []*PropertyInfo{
				str("payload"),
				prop("sent", proto.KindTime, indexed),
				str("errorcode", indexed),
				str("errormessage"),
				str("notifieruuid", indexed),
				prop("notificationuuid", proto.KindUUID, indexed),
				str("name", indexed),
			},
		},
		{
			Name: "event",
			Properties: []*PropertyInfo{
				prop("timestamp", proto.KindTime, indexed, immutable),
				str("category", indexed),
				prop("counters", proto.KindMap),
				str("message", indexed, fulltext),
				prop("user", proto.KindUUID, indexed),
				prop("group", proto.KindUUID, indexed),
				str("name", indexed),
			},
		},
	}
}
