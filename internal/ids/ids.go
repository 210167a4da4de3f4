// Package ids mints sortable identifiers for records created by this service.
package ids

import "github.com/segmentio/ksuid"

func New() string {
	return ksuid.New().String()
}
