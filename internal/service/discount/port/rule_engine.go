package port

import "cafeteria/internal/service/discount/domain"

// RuleEngine evaluates a cafeteria's optional condition expression.
type RuleEngine interface {
	Evaluate(expression string, fact domain.RuleFact) (bool, error)
}
