/*
   Copyright 2020 YANDEX LLC

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package pgstrict

import "github.com/gofrs/uuid"

// QueryID is an opaque token correlating every log record and error emitted
// for a single logical query. No ordering is promised, only uniqueness.
type QueryID string

// NewQueryID generates a fresh query id, unique within the process lifetime
func NewQueryID() QueryID {
	return QueryID(uuid.Must(uuid.NewV4()).String())
}

// String implements Stringer
func (id QueryID) String() string {
	return string(id)
}

// orNewQueryID returns the inherited id when one is present and generates a
// fresh one otherwise. This is the sole propagation policy for query ids.
func orNewQueryID(id QueryID) QueryID {
	if id != "" {
		return id
	}
	return NewQueryID()
}
