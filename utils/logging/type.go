package logging

import (
	"fmt"
)

// Type returns the type of the given value as a string, for use as a
// structured log field.
func Type(obj interface{}) string {
	return fmt.Sprintf("%T", obj)
}
