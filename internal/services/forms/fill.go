package forms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/browser"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/services/fields"
)

// FillOptions control one fill pass.
type FillOptions struct {
	Mode           domain.Mode
	Overrides      domain.FieldOverrides
	KeystrokeDelay time.Duration
	FieldSettle    time.Duration
}

// Filler fills form fields with synthetic values.
type Filler struct {
	classifier *fields.Classifier
	logger     *zap.Logger
}

// NewFiller creates a filler. A nil classifier uses the default rules.
func NewFiller(classifier *fields.Classifier, logger *zap.Logger) *Filler {
	if classifier == nil {
		classifier = &fields.Classifier{}
	}
	return &Filler{classifier: classifier, logger: logger}
}

// Fill processes fields in document order. Per-field failures are logged
// and never abort the pass. A cancelled ctx stops between fields.
func (f *Filler) Fill(ctx context.Context, form FormDescriptor, opts FillOptions) []string {
	var actions []string

	for _, field := range form.Fields {
		if ctx.Err() != nil {
			break
		}
		// Visibility is read again here: page script may have revealed or
		// hidden the field since discovery.
		visible, err := field.Element.IsVisible()
		if err != nil {
			actions = append(actions, f.failed(form, field, err))
			continue
		}
		if !visible {
			f.logger.Debug("skipping invisible field",
				zap.Int("form", form.Index),
				zap.String("field", field.DisplayName()),
			)
			continue
		}
		if field.Honeypot {
			actions = append(actions, "⊘ Skipped honeypot: "+field.DisplayName())
			continue
		}

		value, overridden := f.override(field, opts.Overrides)
		if opts.Mode == domain.ModeManual && !overridden {
			actions = append(actions, "⊘ Skipped (manual mode): "+field.DisplayName())
			continue
		}
		if !overridden {
			value = f.classifier.Classify(field.DOMType, field.Label())
		}

		line, err := f.fillField(field, value, overridden, opts.KeystrokeDelay)
		if err != nil {
			actions = append(actions, f.failed(form, field, err))
			continue
		}
		actions = append(actions, line)

		if err := browser.Pause(ctx, opts.FieldSettle); err != nil {
			break
		}
	}
	return actions
}

// failed logs a per-field error and returns its action line.
func (f *Filler) failed(form FormDescriptor, field FieldDescriptor, err error) string {
	f.logger.Warn("field fill failed",
		zap.Int("form", form.Index),
		zap.String("field", field.DisplayName()),
		zap.Error(domain.ErrInteraction(field.DisplayName(), err)),
	)
	return "✗ Error filling field: " + domain.OneLine(err.Error())
}

func (f *Filler) override(field FieldDescriptor, overrides domain.FieldOverrides) (string, bool) {
	for _, key := range []string{field.Name, field.ID, field.Placeholder} {
		if v, ok := overrides.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

func (f *Filler) fillField(field FieldDescriptor, value string, overridden bool, delay time.Duration) (string, error) {
	el := field.Element
	switch field.DOMType {
	case "checkbox", "radio":
		if err := el.Click(); err != nil {
			return "", err
		}
		return "✓ Checked: " + field.DisplayName(), nil

	case "select", "select-one", "select-multiple":
		choice := value
		if !overridden {
			var err error
			if choice, err = defaultOption(el); err != nil {
				return "", err
			}
		}
		if err := el.SelectOption(choice); err != nil {
			return "", err
		}
		return "✓ Selected option in: " + field.Label(), nil

	default:
		if err := el.Click(); err != nil {
			return "", err
		}
		if err := el.TypeText(value, delay); err != nil {
			return "", err
		}
		return fmt.Sprintf("✓ Filled: %s = %s", field.DisplayName(), value), nil
	}
}

// defaultOption picks the second option when there is more than one, since
// the first is usually a placeholder.
func defaultOption(el browser.Element) (string, error) {
	options, err := el.OptionValues()
	if err != nil {
		return "", err
	}
	switch len(options) {
	case 0:
		return "", errors.New("select has no options")
	case 1:
		return options[0], nil
	default:
		return options[1], nil
	}
}
