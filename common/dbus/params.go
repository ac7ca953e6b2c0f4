// Copyright 2021 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package dbus

import (
	"strings"

	"github.com/pkg/errors"
)

// ParseStringTupleParameters decodes the parameters string a
// MethodCallCallback receives for a method whose entire signature is
// strings, e.g. "('https://example.com', 'eyJhbGc...')". The native side
// hands callbacks this text form (g_variant_print) rather than a structured
// value, so a method call taking input arguments has to unpack it itself;
// GetJwtToken/FetchJwtToken never needed this because they take none.
func ParseStringTupleParameters(params string) ([]string, error) {
	s := strings.TrimSpace(params)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, errors.Errorf("dbus: not a tuple: %q", params)
	}
	s = s[1 : len(s)-1]

	var result []string
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ,")
		if s == "" {
			break
		}
		if s[0] != '\'' {
			return nil, errors.Errorf("dbus: expected quoted string in %q", params)
		}
		var b strings.Builder
		i := 1
		closed := false
		for ; i < len(s); i++ {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
				continue
			}
			if c == '\'' {
				closed = true
				i++
				break
			}
			b.WriteByte(c)
		}
		if !closed {
			return nil, errors.Errorf("dbus: unterminated string in %q", params)
		}
		result = append(result, b.String())
		s = s[i:]
	}
	return result, nil
}
