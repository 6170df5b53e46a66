package docbatch

import "github.com/xraph/docbatch/id"

// ID is the primary identifier type for all docbatch entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
