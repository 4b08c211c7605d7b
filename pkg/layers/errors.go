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

package layers

import (
	"fmt"
)

// ErrBadMagic returned when a buffer does not start with the sync bytes a
// frame header requires. It means "not this protocol", not corruption.
type ErrBadMagic struct {
	Want []byte
	Got  []byte
}

func (e ErrBadMagic) Error() string {
	return fmt.Sprintf("Wrong sync bytes. Must be %x, got %x", e.Want, e.Got)
}
