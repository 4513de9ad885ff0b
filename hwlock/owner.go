package hwlock

import (
	"fmt"
)

// Owner is an entity able to own a core: either a context (by its index on
// the core) or the device itself, for operations spanning contexts.
type Owner struct {
	IsDevice bool
	Context  int
}

var OwnerDevice = Owner{IsDevice: true, Context: -1}

func OwnerContext(idx int) Owner {
	return Owner{Context: idx}
}

func (o Owner) String() string {
	if o.IsDevice {
		return "dev"
	}
	return fmt.Sprintf("ctx%d", o.Context)
}
