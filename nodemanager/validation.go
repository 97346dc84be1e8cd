package nodemanager

import (
	"fmt"
	"regexp"

	"github.com/liamcoop/timecontrol/config"
	"github.com/liamcoop/timecontrol/controller"
	"github.com/liamcoop/timecontrol/rules"
)

// MaxRules is the largest rule list a node may carry.
const MaxRules = 500

var validNodeID = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// ValidateConfig checks a node definition: its id, its settings and every rule.
// Failures wrap controller.ErrInvalidConfig.
func ValidateConfig(n config.Node) error {
	if err := validateIdentifier(n.ID); err != nil {
		return fmt.Errorf("%w: invalid node id %q: %w", controller.ErrInvalidConfig, n.ID, err)
	}

	if len(n.Rules) > MaxRules {
		return fmt.Errorf("%w: node has %d rules, maximum allowed is %d", controller.ErrInvalidConfig, len(n.Rules), MaxRules)
	}

	if err := n.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: %w", controller.ErrInvalidConfig, err)
	}

	if _, err := rules.Normalize(n.Rules); err != nil {
		return fmt.Errorf("%w: %w", controller.ErrInvalidConfig, err)
	}

	return nil
}

// validateIdentifier validates a node id: 1-100 characters, starting with a letter or
// underscore, followed by letters, digits, underscores or dashes.
func validateIdentifier(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(id))
	}
	if !validNodeID.MatchString(id) {
		return fmt.Errorf("must match pattern %s", validNodeID.String())
	}
	return nil
}
