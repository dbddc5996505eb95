// File: internal/submit/executor_test.go
package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/config"
	"github.com/formcourier/formcourier/internal/mocks"
)

// mockScanner mocks the pre-submit challenge check.
type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) ScanOnce(ctx context.Context, sess schemas.BrowserSession) (schemas.ChallengeResult, error) {
	args := m.Called(ctx, sess)
	return args.Get(0).(schemas.ChallengeResult), args.Error(1)
}

func cleanScanner() *mockScanner {
	s := &mockScanner{}
	s.On("ScanOnce", mock.Anything, mock.Anything).
		Return(schemas.ChallengeResult{Type: schemas.ChallengeNone}, nil)
	return s
}

func newExecutor(scanner ChallengeScanner) *Executor {
	return New(zap.NewNop(), scanner, clockwork.NewRealClock(),
		config.SubmitConfig{SettleDelay: time.Millisecond})
}

func basePayload() schemas.Payload {
	return schemas.Payload{
		FirstName:  "Dana",
		LastName:   "Reyes",
		Email:      "dana@client.example",
		Phone:      "(650) 123-4567",
		PostalCode: "94040",
		Message:    "Interested in a quote for our office.",
		Consent:    true,
	}
}

func TestPhoneDigits(t *testing.T) {
	cases := map[string]string{
		"(650) 123-4567":  "6501234567",
		"650-123-4567":    "6501234567",
		"1 650 123 4567":  "6501234567",
		"+1 650 123 4567": "6501234567",
		"123-4567":        "1234567",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, PhoneDigits(in), "input %q", in)
	}
}

func TestSplitPhone(t *testing.T) {
	area, prefix, suffix, ok := SplitPhone("(650) 123-4567")
	require.True(t, ok)
	assert.Equal(t, "650", area)
	assert.Equal(t, "123", prefix)
	assert.Equal(t, "4567", suffix)

	_, _, _, ok = SplitPhone("123-4567")
	assert.False(t, ok)
}

func TestFillTypesMappedFields(t *testing.T) {
	desc := schemas.FormDescriptor{
		FormSelector: "#f",
		Fields: []schemas.FieldCandidate{
			{Role: schemas.RoleEmail, Selector: "#email"},
			{Role: schemas.RolePhone, Selector: "#phone"},
			{Role: schemas.RoleMessage, Selector: "#message"},
			{Role: schemas.RoleConsent, Selector: "#consent"},
		},
	}

	sess := &mocks.MockBrowserSession{}
	sess.On("Type", mock.Anything, "#email", "dana@client.example").Return(nil)
	sess.On("Type", mock.Anything, "#phone", "6501234567").Return(nil)
	sess.On("Type", mock.Anything, "#message", mock.Anything).Return(nil)
	sess.On("SetChecked", mock.Anything, "#consent", true).Return(nil)

	err := newExecutor(cleanScanner()).Fill(context.Background(), sess, desc, basePayload())
	require.NoError(t, err)
	sess.AssertExpectations(t)
}

func TestFillSkipsEmptyValues(t *testing.T) {
	desc := schemas.FormDescriptor{
		FormSelector: "#f",
		Fields: []schemas.FieldCandidate{
			{Role: schemas.RoleEmail, Selector: "#email"},
			{Role: schemas.RolePhone, Selector: "#phone"},
		},
	}
	payload := basePayload()
	payload.Phone = ""

	sess := &mocks.MockBrowserSession{}
	sess.On("Type", mock.Anything, "#email", mock.Anything).Return(nil)

	err := newExecutor(cleanScanner()).Fill(context.Background(), sess, desc, payload)
	require.NoError(t, err)
	sess.AssertNotCalled(t, "Type", mock.Anything, "#phone", mock.Anything)
}

func TestFillFullNameField(t *testing.T) {
	desc := schemas.FormDescriptor{
		FormSelector: "#f",
		Fields:       []schemas.FieldCandidate{{Role: schemas.RoleName, Selector: "#name"}},
	}

	sess := &mocks.MockBrowserSession{}
	sess.On("Type", mock.Anything, "#name", "Dana Reyes").Return(nil)

	err := newExecutor(cleanScanner()).Fill(context.Background(), sess, desc, basePayload())
	require.NoError(t, err)
	sess.AssertExpectations(t)
}

func TestFillSplitPhoneComposite(t *testing.T) {
	desc := schemas.FormDescriptor{
		FormSelector: "#gform_1",
		Composites: []schemas.CompositeField{{
			Kind: schemas.CompositeSplitPhone,
			Parts: []schemas.CompositePart{
				{Tag: schemas.PartArea, Selector: `#gform_1 input[name="input_3:1"]`},
				{Tag: schemas.PartPrefix, Selector: `#gform_1 input[name="input_3:2"]`},
				{Tag: schemas.PartSuffix, Selector: `#gform_1 input[name="input_3:3"]`},
			},
		}},
	}

	sess := &mocks.MockBrowserSession{}
	sess.On("Type", mock.Anything, `#gform_1 input[name="input_3:1"]`, "650").Return(nil)
	sess.On("Type", mock.Anything, `#gform_1 input[name="input_3:2"]`, "123").Return(nil)
	sess.On("Type", mock.Anything, `#gform_1 input[name="input_3:3"]`, "4567").Return(nil)

	err := newExecutor(cleanScanner()).Fill(context.Background(), sess, desc, basePayload())
	require.NoError(t, err)
	sess.AssertExpectations(t)
}

func TestFillSplitNameAndZipComposites(t *testing.T) {
	desc := schemas.FormDescriptor{
		FormSelector: "#f",
		Composites: []schemas.CompositeField{
			{
				Kind: schemas.CompositeSplitName,
				Parts: []schemas.CompositePart{
					{Tag: schemas.PartFirst, Selector: "#first"},
					{Tag: schemas.PartLast, Selector: "#last"},
				},
			},
			{
				Kind:  schemas.CompositeProviderZip,
				Parts: []schemas.CompositePart{{Tag: schemas.PartZip, Selector: "#zip"}},
			},
		},
	}

	sess := &mocks.MockBrowserSession{}
	sess.On("Type", mock.Anything, "#first", "Dana").Return(nil)
	sess.On("Type", mock.Anything, "#last", "Reyes").Return(nil)
	sess.On("Type", mock.Anything, "#zip", "94040").Return(nil)

	err := newExecutor(cleanScanner()).Fill(context.Background(), sess, desc, basePayload())
	require.NoError(t, err)
	sess.AssertExpectations(t)
}

// -- Submit --

var testDesc = schemas.FormDescriptor{FormSelector: "#f"}

const contactURL = "https://acme.example/contact/"

func TestSubmitBlockedByLateChallenge(t *testing.T) {
	scanner := &mockScanner{}
	scanner.On("ScanOnce", mock.Anything, mock.Anything).
		Return(schemas.ChallengeResult{Type: schemas.ChallengeRecaptcha, Visible: true}, nil)

	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil)

	out, err := newExecutor(scanner).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	assert.Equal(t, schemas.OutcomeBlocked, out.Kind)
	assert.Equal(t, schemas.BlockChallenge, out.Reason)
	assert.Equal(t, schemas.ChallengeRecaptcha, out.ChallengeType)
	assert.False(t, out.ClickDispatched)
	sess.AssertNotCalled(t, "Click", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitBlockedByVisibleValidationError(t *testing.T) {
	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil)
	sess.On("Visible", mock.Anything, "#f .validation_message").Return(true, nil)
	sess.On("Visible", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("Text", mock.Anything, "#f .validation_message").Return("Email is required", nil)

	out, err := newExecutor(cleanScanner()).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.Equal(t, schemas.FailValidationError, out.Blocker)
	assert.False(t, out.ClickDispatched)
	assert.Equal(t, "Email is required", out.Detail)
}

func TestSubmitControlMissing(t *testing.T) {
	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil)
	sess.On("Visible", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("DOM", mock.Anything).Return(`<html><body><form id="f"><input type="email" name="email"></form></body></html>`, nil)

	out, err := newExecutor(cleanScanner()).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.Equal(t, schemas.FailSubmitControlMissing, out.Blocker)
	assert.False(t, out.ClickDispatched)
}

func TestSubmitClickChainEscalates(t *testing.T) {
	control := `#f button[type="submit"]`
	clickErr := errors.New("element intercepted")

	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil).Once()
	sess.On("Visible", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("Exists", mock.Anything, control).Return(true, nil)
	sess.On("Click", mock.Anything, control, schemas.ClickStandard).Return(clickErr)
	sess.On("Click", mock.Anything, control, schemas.ClickForced).Return(clickErr)
	sess.On("Click", mock.Anything, control, schemas.ClickScript).Return(nil)
	sess.On("CurrentURL", mock.Anything).Return("https://acme.example/contact/thank-you/", nil)

	out, err := newExecutor(cleanScanner()).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	require.Equal(t, schemas.OutcomeSuccess, out.Kind)
	assert.Equal(t, string(schemas.ClickScript), out.Method)
	assert.Equal(t, schemas.VerifyURLChange, out.Verification)
	assert.True(t, out.ClickDispatched)
	sess.AssertNotCalled(t, "Click", mock.Anything, control, schemas.ClickSynthetic)
}

func TestSubmitAllClickStrategiesFail(t *testing.T) {
	control := `#f button[type="submit"]`
	clickErr := errors.New("node detached")

	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil)
	sess.On("Visible", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("Exists", mock.Anything, control).Return(true, nil)
	sess.On("Click", mock.Anything, control, mock.Anything).Return(clickErr)

	out, err := newExecutor(cleanScanner()).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.Equal(t, schemas.FailClickStrategiesExhausted, out.Blocker)
	assert.False(t, out.ClickDispatched, "an exhausted click chain never got the form out")
}

func TestSubmitVerifiedBySuccessMessage(t *testing.T) {
	control := `#f button[type="submit"]`

	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil)
	sess.On("Visible", mock.Anything, ".gform_confirmation_message").Return(true, nil)
	sess.On("Visible", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("Exists", mock.Anything, control).Return(true, nil)
	sess.On("Click", mock.Anything, control, schemas.ClickStandard).Return(nil)

	out, err := newExecutor(cleanScanner()).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	require.Equal(t, schemas.OutcomeSuccess, out.Kind)
	assert.Equal(t, schemas.VerifySuccessMessage, out.Verification)
}

func TestSubmitVerifiedByFormGone(t *testing.T) {
	control := `#f button[type="submit"]`

	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil)
	sess.On("Visible", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("Exists", mock.Anything, control).Return(true, nil)
	sess.On("Exists", mock.Anything, "#f").Return(false, nil)
	sess.On("Click", mock.Anything, control, schemas.ClickStandard).Return(nil)

	out, err := newExecutor(cleanScanner()).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	require.Equal(t, schemas.OutcomeSuccess, out.Kind)
	assert.Equal(t, schemas.VerifyFormGone, out.Verification)
}

func TestSubmitVerifiedByThankYouText(t *testing.T) {
	control := `#f button[type="submit"]`

	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil)
	sess.On("Visible", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("Exists", mock.Anything, control).Return(true, nil)
	sess.On("Exists", mock.Anything, "#f").Return(true, nil)
	sess.On("Click", mock.Anything, control, schemas.ClickStandard).Return(nil)
	sess.On("DOM", mock.Anything).
		Return(`<html><body><form id="f"></form><p>Thank you for reaching out, we will be in touch.</p></body></html>`, nil)

	out, err := newExecutor(cleanScanner()).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	require.Equal(t, schemas.OutcomeSuccess, out.Kind)
	assert.Equal(t, schemas.VerifyThankYouText, out.Verification)
}

func TestSubmitAmbiguousIsNeverSuccess(t *testing.T) {
	control := `#f button[type="submit"]`

	sess := &mocks.MockBrowserSession{}
	sess.On("CurrentURL", mock.Anything).Return(contactURL, nil)
	sess.On("Visible", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("Exists", mock.Anything, control).Return(true, nil)
	sess.On("Exists", mock.Anything, "#f").Return(true, nil)
	sess.On("Click", mock.Anything, control, schemas.ClickStandard).Return(nil)
	sess.On("DOM", mock.Anything).
		Return(`<html><body><form id="f"></form><p>Fields marked with an asterisk are required.</p></body></html>`, nil)

	out, err := newExecutor(cleanScanner()).Submit(context.Background(), sess, testDesc)
	require.NoError(t, err)
	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.Equal(t, schemas.FailAmbiguousNoSignal, out.Blocker)
	assert.True(t, out.ClickDispatched, "a dispatched click that verified nothing is still post-submit")
}

func TestFindSubmitControlByButtonText(t *testing.T) {
	page := `<html><body><form id="f">
	  <input type="email" name="email">
	  <button>Send Message</button>
	</form></body></html>`

	sess := &mocks.MockBrowserSession{}
	sess.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	sess.On("DOM", mock.Anything).Return(page, nil)

	control, _ := newExecutor(cleanScanner()).findSubmitControl(
		context.Background(), sess, testDesc)
	assert.Equal(t, `(//form)[1]//button[normalize-space()="Send Message"]`, control)
}
