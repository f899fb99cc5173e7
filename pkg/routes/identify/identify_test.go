package identify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

type stubResolver struct {
	resolution *models.Resolution
	err        error

	gotEmail string
	gotPhone string
	calls    int
}

func (s *stubResolver) Resolve(ctx context.Context, email, phoneNumber string) (*models.Resolution, error) {
	s.calls++
	s.gotEmail = email
	s.gotPhone = phoneNumber
	if s.err != nil {
		return nil, s.err
	}
	return s.resolution, nil
}

func postIdentify(t *testing.T, handler *Handler, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/identify", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	return rec, handler.Identify(c)
}

func TestIdentifyReturnsConsolidatedContact(t *testing.T) {
	resolver := &stubResolver{
		resolution: &models.Resolution{
			View: models.ContactView{
				PrimaryContactID:    1,
				Emails:              []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"},
				PhoneNumbers:        []string{"123456"},
				SecondaryContactIDs: []int64{23},
			},
		},
	}
	handler := NewHandler(resolver, nil, logging.NewNopLogger())

	rec, err := postIdentify(t, handler, `{"email":"mcfly@hillvalley.edu","phoneNumber":"123456"}`)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "mcfly@hillvalley.edu", resolver.gotEmail)
	assert.Equal(t, "123456", resolver.gotPhone)

	var resp models.IdentifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Contact.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, resp.Contact.Emails)
	assert.Equal(t, []string{"123456"}, resp.Contact.PhoneNumbers)
	assert.Equal(t, []int64{23}, resp.Contact.SecondaryContactIDs)
}

func TestIdentifyResponseEnvelopeShape(t *testing.T) {
	resolver := &stubResolver{
		resolution: &models.Resolution{
			View: models.ContactView{
				PrimaryContactID:    7,
				Emails:              []string{},
				PhoneNumbers:        []string{"555123"},
				SecondaryContactIDs: []int64{},
			},
		},
	}
	handler := NewHandler(resolver, nil, logging.NewNopLogger())

	rec, err := postIdentify(t, handler, `{"phoneNumber":"555123"}`)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Contains(t, raw, "contact")

	// Empty collections serialize as [], never null
	assert.JSONEq(t, `{"primaryContactId":7,"emails":[],"phoneNumbers":["555123"],"secondaryContactIds":[]}`, string(raw["contact"]))
}

func TestIdentifyRejectsEmptyRequest(t *testing.T) {
	resolver := &stubResolver{}
	handler := NewHandler(resolver, nil, logging.NewNopLogger())

	_, err := postIdentify(t, handler, `{}`)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Zero(t, resolver.calls)
}

func TestIdentifyRejectsMalformedBody(t *testing.T) {
	resolver := &stubResolver{}
	handler := NewHandler(resolver, nil, logging.NewNopLogger())

	_, err := postIdentify(t, handler, `{"email": 42}`)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Zero(t, resolver.calls)
}

func TestIdentifyRejectsBothFieldsEmpty(t *testing.T) {
	resolver := &stubResolver{}
	handler := NewHandler(resolver, nil, logging.NewNopLogger())

	_, err := postIdentify(t, handler, `{"email":"","phoneNumber":""}`)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Zero(t, resolver.calls)
}

func TestIdentifyAcceptsArbitraryEmailStrings(t *testing.T) {
	// Identity values match verbatim; the endpoint imposes no format rules
	resolver := &stubResolver{
		resolution: &models.Resolution{
			View: models.ContactView{
				PrimaryContactID:    3,
				Emails:              []string{"not-an-email"},
				PhoneNumbers:        []string{},
				SecondaryContactIDs: []int64{},
			},
		},
	}
	handler := NewHandler(resolver, nil, logging.NewNopLogger())

	rec, err := postIdentify(t, handler, `{"email":"not-an-email"}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not-an-email", resolver.gotEmail)
	assert.Equal(t, 1, resolver.calls)
}

func TestIdentifyPropagatesResolverErrors(t *testing.T) {
	resolver := &stubResolver{
		err: httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve contact identity"),
	}
	handler := NewHandler(resolver, nil, logging.NewNopLogger())

	_, err := postIdentify(t, handler, `{"phoneNumber":"555123"}`)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
	assert.Equal(t, 1, resolver.calls)
}
