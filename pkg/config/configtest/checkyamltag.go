// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package configtest

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"go.uber.org/multierr"
)

// checkYAMLTags walks exported struct fields and reports any non-bool field whose yaml tag would
// serialize zero values, which would override defaults when configs are merged.
func checkYAMLTags(t reflect.Type, seen map[reflect.Type]struct{}, local string) error {
	if _, ok := seen[t]; ok {
		return nil
	}
	seen[t] = struct{}{}

	switch t.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.Pointer:
		return checkYAMLTags(t.Elem(), seen, local)
	case reflect.Struct:
		if !strings.HasPrefix(t.PkgPath(), local) {
			// only this module's config types are checked
			return nil
		}

		var errs error
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)

			if !field.IsExported() || field.Type.Kind() == reflect.Bool {
				continue
			}

			if field.Tag.Get("config") == "allowempty" {
				continue
			}

			parts := strings.Split(field.Tag.Get("yaml"), ",")
			if parts[0] == "-" {
				continue
			}

			if !slices.Contains(parts, "omitempty") && !slices.Contains(parts, "inline") {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s.%s missing omitempty tag", t.PkgPath(), t.Name(), field.Name))
			}

			errs = multierr.Append(errs, checkYAMLTags(field.Type, seen, local))
		}
		return errs
	default:
		return nil
	}
}

func CheckYAMLTags(config any) error {
	t := reflect.TypeOf(config)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	local := t.PkgPath()
	if i := strings.Index(local, "/pkg/"); i >= 0 {
		local = local[:i]
	}
	return checkYAMLTags(t, map[reflect.Type]struct{}{}, local)
}
