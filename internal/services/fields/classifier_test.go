package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		domType string
		label   string
		want    string
	}{
		{"email label", "text", "email", ValueEmail},
		{"email upper case", "text", "Your-EMAIL", ValueEmail},
		{"e-mail dutch spelling", "text", "E-mailadres", ValueEmail},
		{"email label beats tel type", "tel", "contact_email", ValueEmail},
		{"phone", "text", "phone_number", ValuePhone},
		{"telefoon", "text", "telefoon", ValuePhone},
		{"mobile", "text", "mobile", ValuePhone},
		{"full name", "text", "your-name", ValueFullName},
		{"naam", "text", "Naam", ValueFullName},
		{"first name", "text", "first_name", ValueFirstName},
		{"voornaam", "text", "voornaam", ValueFirstName},
		{"last name", "text", "lastname", ValueLastName},
		{"achternaam", "text", "achternaam", ValueLastName},
		{"address", "text", "street_address", ValueAddress},
		{"adres", "text", "adres", ValueAddress},
		{"city", "text", "city", ValueCity},
		{"woonplaats", "text", "woonplaats", ValueCity},
		{"zip", "text", "zip", ValuePostal},
		{"postcode", "text", "postcode", ValuePostal},
		{"company", "text", "company", ValueCompany},
		{"bedrijfsnaam is a name", "text", "bedrijfsnaam", ValueFullName},
		{"bedrijf", "text", "bedrijf", ValueCompany},
		{"message", "textarea", "your-message", ValueMessage},
		{"bericht", "textarea", "bericht", ValueMessage},
		{"comment", "textarea", "comments", ValueMessage},
		{"tel type fallback", "tel", "field_12", ValuePhone},
		{"email type fallback", "email", "field_3", ValueEmail},
		{"number type fallback", "number", "qty", ValueNumber},
		{"default", "text", "field_9", ValueDefault},
		{"empty label", "text", "", ValueDefault},
		{"empty label email type", "email", "", ValueEmail},
		{"textarea default", "textarea", "", ValueDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.domType, tt.label))
		})
	}
}

func TestClassify_EmailAlwaysWinsRegardlessOfType(t *testing.T) {
	for _, domType := range []string{"text", "tel", "number", "email", "textarea", "select-one", ""} {
		for _, label := range []string{"email", "EMAIL", "E-Mail", "werk-email", "uw e-mail"} {
			assert.Equal(t, ValueEmail, Classify(domType, label), "type=%s label=%s", domType, label)
		}
	}
}

func TestClassifier_Match(t *testing.T) {
	c := NewClassifier(nil)

	m := c.Match("text", "Voornaam")
	assert.Equal(t, CategoryFirstName, m.Category)
	assert.Equal(t, ValueFirstName, m.Value)

	m = c.Match("number", "amount")
	assert.Equal(t, CategoryType, m.Category)
	assert.Equal(t, ValueNumber, m.Value)
}

func TestClassifier_CustomRules(t *testing.T) {
	c := NewClassifier([]Rule{
		{Category: "vat", Keywords: []string{"btw", "vat"}, Value: "NL123456789B01"},
	})

	assert.Equal(t, "NL123456789B01", c.Classify("text", "BTW-nummer"))
	// Default rules are replaced, not extended.
	assert.Equal(t, ValueDefault, c.Classify("text", "email_address"))
}
