package frameworks

import (
	"fmt"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
)

// All returns the built-in framework definitions in registration order.
func All() []compliance.Framework {
	return []compliance.Framework{
		ISO42001(),
		NISTAIRMF(),
		EUAIAct(),
	}
}

// DefaultCatalog builds a catalog holding the built-in validators and
// all shipped frameworks.
func DefaultCatalog() (*compliance.Catalog, error) {
	catalog := compliance.NewCatalog(nil)
	for tag, fn := range Builtins() {
		if err := catalog.Registry().Register(tag, fn); err != nil {
			return nil, fmt.Errorf("frameworks: register validator %s: %w", tag, err)
		}
	}
	for _, fw := range All() {
		if err := catalog.Register(fw); err != nil {
			return nil, fmt.Errorf("frameworks: register %s: %w", fw.ID, err)
		}
	}
	return catalog, nil
}
