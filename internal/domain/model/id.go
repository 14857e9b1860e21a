package model

import "github.com/oklog/ulid/v2"

// NewID mints a lexicographically sortable entity id.
func NewID() string { return ulid.Make().String() }
