// Package forms discovers lead forms on a page and fills them with
// synthetic data.
package forms

import (
	"fmt"
	"strings"

	"github.com/testforge/trackingtester/internal/browser"
)

// FillableSelector matches inputs a visitor can fill.
const FillableSelector = `input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea, select`

// NewsletterKeywords mark signup forms by text, id or class.
var NewsletterKeywords = []string{
	"newsletter",
	"nieuwsbrief",
	"subscribe",
	"inschrijven",
	"mailchimp",
	"mc-embedded",
}

// HoneypotPhrases appear in labels of anti-bot fields.
var HoneypotPhrases = []string{
	"are you human",
	"leave this field blank",
	"leave blank",
	"laat dit veld leeg",
	"niet invullen",
	"do not fill",
}

// Skip reasons.
const (
	ReasonNotVisible = "not visible"
	ReasonNoFields   = "no visible fillable fields"
	ReasonNewsletter = "newsletter form"
)

// FieldDescriptor describes one fillable field.
type FieldDescriptor struct {
	Element     browser.Element
	DOMType     string
	Name        string
	ID          string
	Placeholder string
	Visible     bool
	Honeypot    bool
}

// Label is name, id or placeholder, whichever is set first.
func (f FieldDescriptor) Label() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.ID != "":
		return f.ID
	default:
		return f.Placeholder
	}
}

// DisplayName is the label, or the type when the field has no label.
func (f FieldDescriptor) DisplayName() string {
	if l := f.Label(); l != "" {
		return l
	}
	return f.DOMType
}

// FormDescriptor describes one form in document order.
type FormDescriptor struct {
	Index        int
	ID           string
	Name         string
	Class        string
	Element      browser.Element
	Visible      bool
	IsNewsletter bool
	Fields       []FieldDescriptor
}

// Title renders "Form 2 (id: contact) (name: lead)".
func (f FormDescriptor) Title() string {
	s := fmt.Sprintf("Form %d", f.Index)
	if f.ID != "" {
		s += fmt.Sprintf(" (id: %s)", f.ID)
	}
	if f.Name != "" {
		s += fmt.Sprintf(" (name: %s)", f.Name)
	}
	return s
}

// Describe renders the discovery log line.
func (f FormDescriptor) Describe() string {
	return fmt.Sprintf("%s: Found %d fillable field(s)", f.Title(), len(f.Fields))
}

// VisibleFields counts visible fields.
func (f FormDescriptor) VisibleFields() int {
	n := 0
	for _, fd := range f.Fields {
		if fd.Visible {
			n++
		}
	}
	return n
}

// Eligible reports whether the form may be filled, and why not.
func Eligible(f FormDescriptor, skipNewsletters bool) (bool, string) {
	switch {
	case !f.Visible:
		return false, ReasonNotVisible
	case f.VisibleFields() == 0:
		return false, ReasonNoFields
	case skipNewsletters && f.IsNewsletter:
		return false, ReasonNewsletter
	}
	return true, ""
}

// SkipLine renders the log line for a skipped form.
func SkipLine(f FormDescriptor, reason string) string {
	return fmt.Sprintf("⊘ %s: skipping (%s)", f.Title(), reason)
}

// CountLine renders the total form count.
func CountLine(n int) string {
	return fmt.Sprintf("Found %d form(s) on the page", n)
}

// Discover describes every form on page in document order.
func Discover(page browser.Page) ([]FormDescriptor, error) {
	elements, err := page.QueryAll("form")
	if err != nil {
		return nil, fmt.Errorf("querying forms: %w", err)
	}

	forms := make([]FormDescriptor, 0, len(elements))
	for i, el := range elements {
		fd, err := describeForm(i+1, el)
		if err != nil {
			return nil, fmt.Errorf("describing form %d: %w", i+1, err)
		}
		forms = append(forms, fd)
	}
	return forms, nil
}

func describeForm(index int, el browser.Element) (FormDescriptor, error) {
	fd := FormDescriptor{Index: index, Element: el}
	fd.ID, _ = el.Property("id")
	fd.Name, _ = el.Attribute("name")
	fd.Class, _ = el.Property("className")

	visible, err := el.IsVisible()
	if err != nil {
		return fd, err
	}
	fd.Visible = visible

	text, _ := el.Property("textContent")
	fd.IsNewsletter = isNewsletter(fd.ID, fd.Class, text)

	inputs, err := el.QueryAll(FillableSelector)
	if err != nil {
		return fd, fmt.Errorf("querying fields: %w", err)
	}
	for _, in := range inputs {
		fd.Fields = append(fd.Fields, describeField(in))
	}
	return fd, nil
}

func describeField(el browser.Element) FieldDescriptor {
	f := FieldDescriptor{Element: el}
	f.DOMType, _ = el.Property("type")
	if f.DOMType == "" {
		tag, _ := el.Property("tagName")
		f.DOMType = strings.ToLower(tag)
	}
	f.Name, _ = el.Attribute("name")
	f.ID, _ = el.Attribute("id")
	f.Placeholder, _ = el.Attribute("placeholder")
	f.Visible, _ = el.IsVisible()

	label, _ := el.LabelText()
	f.Honeypot = isHoneypot(f.Name, f.ID, label)
	return f
}

func isNewsletter(id, class, text string) bool {
	haystack := strings.ToLower(id + " " + class + " " + text)
	for _, kw := range NewsletterKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func isHoneypot(name, id, label string) bool {
	l := strings.ToLower(label)
	for _, p := range HoneypotPhrases {
		if strings.Contains(l, p) {
			return true
		}
	}
	for _, v := range []string{strings.ToLower(name), strings.ToLower(id)} {
		if strings.Contains(v, "honeypot") || strings.HasPrefix(v, "hp_") {
			return true
		}
	}
	return false
}
