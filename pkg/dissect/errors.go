/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package dissect

import (
	"fmt"
)

// ErrNotHandled is the decline: the packet is not ours and whoever called
// us should fall back to generic rendering. Never treated as fatal.
type ErrNotHandled struct {
	Packet uint64
}

func (e ErrNotHandled) Error() string {
	return fmt.Sprintf("Packet %d not handled by this dissector", e.Packet)
}

// ErrAlreadyClassified guards the write-once classification store.
type ErrAlreadyClassified struct {
	Packet uint64
}

func (e ErrAlreadyClassified) Error() string {
	return fmt.Sprintf("Packet %d already classified, use Lookup", e.Packet)
}

// ErrLookupMiss means a packet was asked for before the first pass saw it.
type ErrLookupMiss struct {
	Packet uint64
}

func (e ErrLookupMiss) Error() string {
	return fmt.Sprintf("No classification recorded for packet %d", e.Packet)
}
