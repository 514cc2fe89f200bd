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

import (
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Command is the verb the backend reports for a completed statement
type Command string

// Known statement commands
const (
	CommandSelect                  Command = "SELECT"
	CommandInsert                  Command = "INSERT"
	CommandUpdate                  Command = "UPDATE"
	CommandDelete                  Command = "DELETE"
	CommandCopy                    Command = "COPY"
	CommandRefreshMaterializedView Command = "REFRESH MATERIALIZED VIEW"
	CommandUnknown                 Command = "UNKNOWN"
)

// Field describes a single result column
type Field struct {
	Name        string
	DataTypeOID uint32
}

// Row is a single result row keyed by column name. Values are decoded
// through the installed type parsers or the driver defaults.
type Row map[string]any

// QueryResult is the fully materialized outcome of a single statement.
// Fields preserve the order in which the backend described the columns.
type QueryResult struct {
	Command  Command
	Fields   []Field
	RowCount int64
	Rows     []Row
}

// commandFromTag classifies a command tag such as "SELECT 3" or "INSERT 0 1"
func commandFromTag(tag pgconn.CommandTag) Command {
	s := tag.String()
	for _, cmd := range []Command{
		CommandSelect,
		CommandInsert,
		CommandUpdate,
		CommandDelete,
		CommandCopy,
		CommandRefreshMaterializedView,
	} {
		if strings.HasPrefix(s, string(cmd)) {
			return cmd
		}
	}
	return CommandUnknown
}
