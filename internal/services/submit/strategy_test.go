package submit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/testforge/trackingtester/internal/browser/browsertest"
	"github.com/testforge/trackingtester/internal/services/forms"
)

const pageURL = "https://site.test/contact"

func firstForm(t *testing.T, body string) (*browsertest.Page, forms.FormDescriptor) {
	t.Helper()
	b := browsertest.NewBrowser(map[string]*browsertest.Route{
		pageURL: {HTML: "<html><body>" + body + "</body></html>"},
	})
	p, err := b.NewPage(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Goto(pageURL, 0))

	found, err := forms.Discover(p)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	return p.(*browsertest.Page), found[0]
}

func TestLocate_Cascade(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		override string
		wantID   string
	}{
		{
			name:   "tier 1 submit input",
			body:   `<form><button type="button" id="b1">Cancel</button><input type="submit" id="s1" value="Go"></form>`,
			wantID: "s1",
		},
		{
			name:   "tier 2 untyped button",
			body:   `<form><button type="button" id="b1">Send</button><button type="reset" id="r1">Reset</button><button id="u1">Go</button></form>`,
			wantID: "u1",
		},
		{
			name:   "tier 3 intent text",
			body:   `<form><button type="button" id="b1">Terug</button><input type="button" id="b2" value="Verstuur aanvraag"></form>`,
			wantID: "b2",
		},
		{
			name:     "override wins",
			body:     `<form><button type="submit" id="s1">Go</button><a id="custom" class="send">Send</a></form>`,
			override: "a.send",
			wantID:   "custom",
		},
		{
			name:     "override without match falls through",
			body:     `<form><button type="submit" id="s1">Go</button></form>`,
			override: "#missing",
			wantID:   "s1",
		},
		{
			name:     "malformed override falls through",
			body:     `<form><button type="submit" id="s1">Go</button></form>`,
			override: "button[[type=",
			wantID:   "s1",
		},
		{
			name:     "default selector is not a separate tier",
			body:     `<form><input type="submit" id="first" value="A"><button type="submit" id="second">B</button></form>`,
			override: `button[type="submit"]`,
			wantID:   "first",
		},
		{
			name:   "nothing",
			body:   `<form><button type="button" id="b1">Terug</button><input name="q"></form>`,
			wantID: "",
		},
	}

	s := New(zaptest.NewLogger(t), 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, form := firstForm(t, tt.body)
			el, err := s.Locate(form, tt.override)
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, el)
				return
			}
			require.NotNil(t, el)
			id, _ := el.Attribute("id")
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestRun_Success(t *testing.T) {
	page, form := firstForm(t, `<form><input name="email"><button type="submit" id="go">
		Verstuur
	</button></form>`)

	actions := New(zaptest.NewLogger(t), 0).Run(context.Background(), form, "")
	assert.Equal(t, []string{
		`🚀 Clicking submit button: "Verstuur"`,
		"✓ Form 1 submitted successfully",
	}, actions)
	assert.Equal(t, 1, page.ClickCount("go"))
}

func TestRun_InvisibleControl(t *testing.T) {
	page, form := firstForm(t, `<form><input name="email"><input type="submit" id="go" value="Send" style="display:none"></form>`)

	actions := New(zaptest.NewLogger(t), 0).Run(context.Background(), form, "")
	assert.Equal(t, []string{`⚠ Submit button found but not visible: "Send"`}, actions)
	assert.Equal(t, 0, page.ClickCount("go"))
}

func TestRun_DisabledControlClickedOnce(t *testing.T) {
	tests := []struct {
		name string
		attr string
	}{
		{"disabled", "disabled"},
		{"remains visually disabled", "disabled data-stay-disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, form := firstForm(t, `<form><input name="email"><button type="submit" id="go" `+tt.attr+`>Aanvragen</button></form>`)

			actions := New(zaptest.NewLogger(t), 0).Run(context.Background(), form, "")
			assert.Equal(t, []string{
				`⚙ Enabled disabled submit button: "Aanvragen"`,
				`🚀 Clicking submit button: "Aanvragen"`,
				"✓ Form 1 submitted successfully",
			}, actions)
			assert.Equal(t, 1, page.ClickCount("go"))
		})
	}
}

func TestRun_ClickError(t *testing.T) {
	_, form := firstForm(t, `<form><button type="submit" data-click-error="element intercepts pointer events">Go</button></form>`)

	actions := New(zaptest.NewLogger(t), 0).Run(context.Background(), form, "")
	assert.Equal(t, []string{
		`🚀 Clicking submit button: "Go"`,
		"✗ Could not submit form 1: element intercepts pointer events",
	}, actions)
}

func TestRun_MultiLineErrorStaysOnOneLine(t *testing.T) {
	_, form := firstForm(t, `<form><button type="submit" data-click-error="Timeout 30000ms exceeded.&#10;Call log:&#10;  - waiting for locator">Go</button></form>`)

	actions := New(zaptest.NewLogger(t), 0).Run(context.Background(), form, "")
	require.Len(t, actions, 2)
	assert.Equal(t, "✗ Could not submit form 1: Timeout 30000ms exceeded. Call log: - waiting for locator", actions[1])
}

func TestRun_MalformedOverrideStillSubmits(t *testing.T) {
	page, form := firstForm(t, `<form><button type="submit" id="go">Go</button></form>`)

	actions := New(zaptest.NewLogger(t), 0).Run(context.Background(), form, "button[[type=")
	assert.Equal(t, "✓ Form 1 submitted successfully", actions[len(actions)-1])
	assert.Equal(t, 1, page.ClickCount("go"))
}

func TestRun_Diagnostics(t *testing.T) {
	_, form := firstForm(t, `<form>
		<button type="button">Vorige stap</button>
		<input type="button" value="Annuleren">
		<button type="button">   Dit is een hele lange knoptekst die wordt afgekapt   </button>
		<button type="button">Vierde</button>
	</form>`)

	actions := New(zaptest.NewLogger(t), 0).Run(context.Background(), form, "")
	assert.Equal(t, []string{
		"⚠ No submit button found in form 1 (found 4 button(s) total)",
		`  Button 1: BUTTON type="button" text="Vorige stap"`,
		`  Button 2: INPUT type="button" text="Annuleren"`,
		`  Button 3: BUTTON type="button" text="Dit is een hele lange knopteks"`,
	}, actions)
}
