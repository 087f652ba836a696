// Package fields maps form fields to deterministic synthetic values.
package fields

import "strings"

// Synthetic values. They are fixed so runs are reproducible.
const (
	ValueEmail     = "kevin@weareon-it.nl"
	ValuePhone     = "0612345678"
	ValueFullName  = "Kevin de Vette"
	ValueFirstName = "Kevin"
	ValueLastName  = "de Vette"
	ValueAddress   = "Teststraat 123"
	ValueCity      = "Amsterdam"
	ValuePostal    = "1234AB"
	ValueCompany   = "WeAreOn IT"
	ValueMessage   = "Dit is een automatische test van de tracking tester tool."
	ValueNumber    = "1"
	ValueDefault   = "Test data"
)

// Category names.
const (
	CategoryEmail     = "email"
	CategoryPhone     = "phone"
	CategoryName      = "name"
	CategoryFirstName = "first_name"
	CategoryLastName  = "last_name"
	CategoryAddress   = "address"
	CategoryCity      = "city"
	CategoryPostal    = "postal"
	CategoryCompany   = "company"
	CategoryMessage   = "message"
	CategoryType      = "type"
)

// Rule matches a lower-cased label against Keywords. When a rule matches,
// its Refine rules are tried before settling on Value.
type Rule struct {
	Category string
	Keywords []string
	Value    string
	Refine   []Rule
}

func (r Rule) matches(label string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(label, kw) {
			return true
		}
	}
	return false
}

// DefaultRules is evaluated in order; the first match wins.
var DefaultRules = []Rule{
	{Category: CategoryEmail, Keywords: []string{"email", "e-mail"}, Value: ValueEmail},
	{Category: CategoryPhone, Keywords: []string{"phone", "tel", "mobile"}, Value: ValuePhone},
	{
		Category: CategoryName,
		Keywords: []string{"name", "naam"},
		Value:    ValueFullName,
		Refine: []Rule{
			{Category: CategoryFirstName, Keywords: []string{"first", "voor"}, Value: ValueFirstName},
			{Category: CategoryLastName, Keywords: []string{"last", "achter"}, Value: ValueLastName},
		},
	},
	{Category: CategoryAddress, Keywords: []string{"address", "adres", "street"}, Value: ValueAddress},
	{Category: CategoryCity, Keywords: []string{"city", "stad", "plaats"}, Value: ValueCity},
	{Category: CategoryPostal, Keywords: []string{"zip", "postal", "postcode"}, Value: ValuePostal},
	{Category: CategoryCompany, Keywords: []string{"company", "bedrijf"}, Value: ValueCompany},
	{Category: CategoryMessage, Keywords: []string{"message", "bericht", "comment"}, Value: ValueMessage},
}

// TypeDefaults apply when no label rule matched.
var TypeDefaults = map[string]string{
	"email":  ValueEmail,
	"tel":    ValuePhone,
	"number": ValueNumber,
}

// Classifier is an ordered rule set. The zero value uses DefaultRules.
type Classifier struct {
	Rules []Rule
}

// NewClassifier returns a classifier over rules.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{Rules: rules}
}

// Match is the outcome of classifying one field.
type Match struct {
	Category string
	Value    string
}

// Classify returns the synthetic value for a field.
func (c *Classifier) Classify(domType, label string) string {
	return c.Match(domType, label).Value
}

// Match returns the category and value for a field.
func (c *Classifier) Match(domType, label string) Match {
	rules := c.Rules
	if rules == nil {
		rules = DefaultRules
	}
	lower := strings.ToLower(label)

	if lower != "" {
		if m, ok := matchRules(rules, lower); ok {
			return m
		}
	}

	if v, ok := TypeDefaults[strings.ToLower(domType)]; ok {
		return Match{Category: CategoryType, Value: v}
	}
	return Match{Category: CategoryType, Value: ValueDefault}
}

func matchRules(rules []Rule, label string) (Match, bool) {
	for _, r := range rules {
		if !r.matches(label) {
			continue
		}
		if m, ok := matchRules(r.Refine, label); ok {
			return m, true
		}
		return Match{Category: r.Category, Value: r.Value}, true
	}
	return Match{}, false
}

var defaultClassifier = &Classifier{}

// Classify uses DefaultRules.
func Classify(domType, label string) string {
	return defaultClassifier.Classify(domType, label)
}
