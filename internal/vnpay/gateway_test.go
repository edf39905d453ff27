package vnpay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGateway() *Gateway {
	clock := func() time.Time { return time.Date(2026, 1, 15, 2, 30, 0, 0, time.UTC) }
	return New(Config{
		TmnCode:    "DEMO1234",
		HashSecret: "TESTSECRET",
		PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://example.com/return",
	}, WithClock(clock))
}

func TestCreateRedirectPaymentRequest(t *testing.T) {
	t.Parallel()

	g := testGateway()
	out, err := g.CreateRedirectPaymentRequest(RedirectRequest{
		OrderID:  "ORDER-1",
		Amount:   220000,
		ClientIP: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?"+redirectSignData+"&vnp_SecureHash="+redirectHash, out.URL)
	assert.Equal(t, redirectHash, out.SecureHash)
}

func TestCreateRedirectPaymentRequestRejectsAmount(t *testing.T) {
	t.Parallel()

	g := testGateway()
	for _, amount := range []int64{0, -5} {
		_, err := g.CreateRedirectPaymentRequest(RedirectRequest{OrderID: "ORDER-1", Amount: amount})
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %d", amount)
	}
	_, err := g.CreateRedirectPaymentRequest(RedirectRequest{Amount: 10})
	assert.ErrorIs(t, err, ErrMissingOrderID)
}

func TestCreateRedirectPaymentRequestBankCode(t *testing.T) {
	t.Parallel()

	out, err := testGateway().CreateRedirectPaymentRequest(RedirectRequest{OrderID: "ORDER-1", Amount: 1000, BankCode: "NCB", Locale: "en"})
	require.NoError(t, err)
	assert.Contains(t, out.URL, "vnp_BankCode=NCB&")
	assert.Contains(t, out.URL, "vnp_Locale=en&")
	assert.Contains(t, out.URL, "vnp_IpAddr=127.0.0.1&", "fallback ip")
}

func TestCreateQrPaymentSession(t *testing.T) {
	t.Parallel()

	g := testGateway()
	session, err := g.CreateQrPaymentSession(QRRequest{
		RedirectRequest: RedirectRequest{OrderID: "ORDER-1", Amount: 220000, ClientIP: "10.0.0.1"},
		ExpiryMinutes:   15,
	})
	require.NoError(t, err)

	wantHash := "734fe020a5c08f5913583c769ca3e8c2a069866b434e22233e458d23e8f23243ec651c47f5fe2ecf133ef56dfddc018651fb6e2da6d460819bdce85f144a5bb5"
	assert.Equal(t, wantHash, session.SecureHash)
	assert.Equal(t, "VNPAY|2.1.0|pay|DEMO1234|22000000|ORDER-1|Thanh%2Btoan%2BQR%2Bcho%2Bma%2BGD%253AORDER-1|20260115093000|"+wantHash, session.QRPayload)
	assert.Contains(t, session.URL, "vnp_ExpireDate=20260115094500&")
	assert.Contains(t, session.URL, "vnp_PaymentType=qr&")
	assert.Equal(t, 15*time.Minute, session.ExpiresAt.Sub(session.CreatedAt))
}

func TestCreateQrPaymentSessionExpiryRange(t *testing.T) {
	t.Parallel()

	g := testGateway()
	cases := []struct {
		minutes int
		wantErr bool
		want    time.Duration
	}{
		{minutes: 0, want: 15 * time.Minute},
		{minutes: 5, want: 5 * time.Minute},
		{minutes: 60, want: 60 * time.Minute},
		{minutes: 4, wantErr: true},
		{minutes: 61, wantErr: true},
		{minutes: -1, wantErr: true},
	}
	for _, tc := range cases {
		session, err := g.CreateQrPaymentSession(QRRequest{
			RedirectRequest: RedirectRequest{OrderID: "ORDER-1", Amount: 1000},
			ExpiryMinutes:   tc.minutes,
		})
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidExpiry, "minutes %d", tc.minutes)
			continue
		}
		require.NoError(t, err, "minutes %d", tc.minutes)
		assert.Equal(t, tc.want, session.ExpiresAt.Sub(session.CreatedAt), "minutes %d", tc.minutes)
	}
}

func TestVerifyCallbackAndParse(t *testing.T) {
	t.Parallel()

	g := testGateway()
	params := map[string]string{
		"vnp_Amount":            "22000000",
		"vnp_BankCode":          "NCB",
		"vnp_OrderInfo":         "Thanh toan cho ma GD:ORDER-1",
		"vnp_PayDate":           "20260115093512",
		"vnp_ResponseCode":      "00",
		"vnp_TmnCode":           "DEMO1234",
		"vnp_TransactionNo":     "14123456",
		"vnp_TransactionStatus": "00",
		"vnp_TxnRef":            "ORDER-1",
		"vnp_SecureHash":        "70382d2cd6d041d422046cb13c47c0f29735a68bc2c010da26b11386251c11ff858d2eeb63037450d218419ee02adf2c3b8a8e5a452f7178e2c0d3a0b911ff80",
	}
	require.True(t, g.VerifyCallback(params))

	cb, err := g.ParseCallback(params)
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", cb.TxnRef)
	assert.Equal(t, int64(220000), cb.Amount)
	assert.True(t, cb.Success())
	assert.Equal(t, "14123456", cb.TransactionNo)
	assert.Equal(t, "NCB", cb.BankCode)
	require.NotNil(t, cb.PayDate)
	assert.True(t, cb.PayDate.Equal(time.Date(2026, 1, 15, 2, 35, 12, 0, time.UTC)), "pay date %s", cb.PayDate)
}

func TestParseCallbackRejectsMalformed(t *testing.T) {
	t.Parallel()

	g := testGateway()
	cases := []map[string]string{
		{"vnp_Amount": "100", "vnp_ResponseCode": "00"},
		{"vnp_TxnRef": "A", "vnp_Amount": "abc", "vnp_ResponseCode": "00"},
		{"vnp_TxnRef": "A", "vnp_Amount": "150", "vnp_ResponseCode": "00"},
		{"vnp_TxnRef": "A", "vnp_Amount": "100"},
	}
	for i, params := range cases {
		_, err := g.ParseCallback(params)
		assert.ErrorIs(t, err, ErrMalformedCallback, "case %d", i)
	}
}

func TestDecodeResponseCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Transaction failed: customer cancelled the transaction", DecodeResponseCode("24"))
	assert.Equal(t, "Unknown error", DecodeResponseCode("42"))

	cb := Callback{ResponseCode: "00", TransactionStatus: "02"}
	assert.False(t, cb.Success(), "non-success transaction status")
}
