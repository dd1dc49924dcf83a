package intake

import (
	"testing"

	"github.com/classpoint/invoicing/internal/billing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope_FlatDetail(t *testing.T) {
	trigger, err := ParseEnvelope([]byte(`{"schoolId":"1001","invoiceId":"2002","reason":"NEW_TERM"}`))
	require.NoError(t, err)

	assert.Equal(t, "1001", trigger.SchoolID.String())
	assert.Equal(t, "2002", trigger.InvoiceID.String())
	assert.Equal(t, "", trigger.DetailType)
	assert.Equal(t, "NEW_TERM", trigger.Reason)
}

func TestParseEnvelope_WrappedDetailObject(t *testing.T) {
	trigger, err := ParseEnvelope([]byte(`{
		"detailType": "invoice.generated",
		"source": "classpoint.billing",
		"detail": {"schoolId": "1001", "invoiceId": "2002"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, domain.DetailTypeInvoiceGenerated, trigger.DetailType)
	assert.Equal(t, "1001", trigger.SchoolID.String())
}

func TestParseEnvelope_WrappedDetailString(t *testing.T) {
	trigger, err := ParseEnvelope([]byte(`{
		"detailType": "invoice.generated",
		"detail": "{\"schoolId\":\"1001\",\"invoiceId\":\"2002\",\"reason\":\"SELECTION_UPDATE\"}"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "2002", trigger.InvoiceID.String())
	assert.Equal(t, domain.ReasonSelectionUpdate, trigger.Reason)
}

func TestParseEnvelope_NumericIDsKeepPrecision(t *testing.T) {
	// Above 2^53: a float64 roundtrip would corrupt this id.
	trigger, err := ParseEnvelope([]byte(`{"schoolId":9007199254740993,"invoiceId":"2002"}`))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", trigger.SchoolID.String())
}

func TestParseEnvelope_MissingIDs(t *testing.T) {
	cases := map[string]string{
		"no invoice":   `{"schoolId":"1001"}`,
		"no school":    `{"invoiceId":"2002"}`,
		"null invoice": `{"schoolId":"1001","invoiceId":null}`,
		"zero school":  `{"schoolId":"0","invoiceId":"2002"}`,
		"bad type":     `{"schoolId":true,"invoiceId":"2002"}`,
		"not numeric":  `{"schoolId":"abc","invoiceId":"2002"}`,
		"empty detail": `{"detailType":"invoice.generated","detail":null}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(body))
			assert.ErrorIs(t, err, domain.ErrMissingCorrelation)
		})
	}
}

func TestParseEnvelope_BadJSONIsFatal(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrMissingCorrelation)
	assert.Contains(t, err.Error(), "parse record body")
}

func TestParseEnvelope_BadInnerDetailIsFatal(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"detailType":"invoice.generated","detail":"{broken"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse wrapped detail")
}

func TestParseEnvelope_DetailRidesAlong(t *testing.T) {
	trigger, err := ParseEnvelope([]byte(`{"schoolId":"1001","invoiceId":"2002","termId":"55"}`))
	require.NoError(t, err)
	assert.Equal(t, "55", trigger.Detail["termId"])
}
