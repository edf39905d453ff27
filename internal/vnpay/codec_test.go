package vnpay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("TESTSECRET")

func redirectParams() map[string]any {
	return map[string]any{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    "DEMO1234",
		"vnp_Locale":     "vn",
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     "ORDER-1",
		"vnp_OrderInfo":  "Thanh toan cho ma GD:ORDER-1",
		"vnp_OrderType":  "other",
		"vnp_Amount":     int64(22000000),
		"vnp_ReturnUrl":  "https://example.com/return",
		"vnp_IpAddr":     "10.0.0.1",
		"vnp_CreateDate": "20260115093000",
	}
}

const (
	redirectSignData = "vnp_Amount=22000000&vnp_Command=pay&vnp_CreateDate=20260115093000&vnp_CurrCode=VND&vnp_IpAddr=10.0.0.1&vnp_Locale=vn&vnp_OrderInfo=Thanh+toan+cho+ma+GD%3AORDER-1&vnp_OrderType=other&vnp_ReturnUrl=https%3A%2F%2Fexample.com%2Freturn&vnp_TmnCode=DEMO1234&vnp_TxnRef=ORDER-1&vnp_Version=2.1.0"
	redirectHash     = "a7916b2f4edba46342f02f24e5432985f915a07b97138f61c2b1604b712ff1d6199b11495ed9519202b3d046f4816c6679dc5f78199242f4104f22991eed3e45"
)

func TestCanonicalizeSortsAndEncodes(t *testing.T) {
	t.Parallel()

	canonical, err := Canonicalize(redirectParams())
	require.NoError(t, err)
	assert.Equal(t, redirectSignData, canonical.Join())
	for i := 1; i < len(canonical); i++ {
		assert.Less(t, canonical[i-1].Key, canonical[i].Key, "keys not sorted at %d", i)
	}
}

func TestSignMatchesGoldenVector(t *testing.T) {
	t.Parallel()

	canonical, err := Canonicalize(redirectParams())
	require.NoError(t, err)
	assert.Equal(t, redirectHash, Sign(canonical, testSecret))
}

func TestEncodeComponent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "a b", want: "a+b"},
		{in: "a+b", want: "a%2Bb"},
		{in: "-_.!~*'()", want: "-_.!~*'()"},
		{in: "x=1&y=2", want: "x%3D1%26y%3D2"},
		{in: "Đặt vé", want: "%C4%90%E1%BA%B7t+v%C3%A9"},
		{in: "/path?q", want: "%2Fpath%3Fq"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, encodeComponent(tc.in))
		})
	}
}

func TestCanonicalizeNestedAndArrays(t *testing.T) {
	t.Parallel()

	canonical, err := Canonicalize(map[string]any{
		"b": "x y",
		"a": map[string]any{"z": "1", "c": "h&i"},
	})
	require.NoError(t, err)
	assert.Equal(t, `a={"c":"h%26i","z":"1"}&b=x+y`, canonical.Join())
	wantHash := "42fac0b2fdb637371e4177a37a6f74f5258b973ea8d75b99e2bd98c1cd5ff6b8a7099b4c36f9eef7145410fbb36de1c57f2bbd89bc3a3a768dc8a430b682af3e"
	assert.Equal(t, wantHash, Sign(canonical, testSecret))

	arr, err := Canonicalize(map[string]any{"list": []any{"a b", 2, nil}})
	require.NoError(t, err)
	assert.Equal(t, "list=a+b%2C2%2C", arr.Join())
}

func TestCanonicalizeRejectsNil(t *testing.T) {
	t.Parallel()

	_, err := Canonicalize(map[string]any{"a": nil})
	assert.Error(t, err, "nil value")
	_, err = Canonicalize(map[string]any{"a": map[string]any{"b": nil}})
	assert.Error(t, err, "nested nil value")
}

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	params := redirectParams()
	params[FieldSecureHash] = redirectHash
	params[FieldSecureHashType] = "HmacSHA512"
	assert.True(t, Verify(params, redirectHash, testSecret))
	assert.True(t, Verify(params, strings.ToUpper(redirectHash), testSecret), "uppercase hash")
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()

	tampered := redirectParams()
	tampered["vnp_Amount"] = int64(100)

	cases := []struct {
		name   string
		params map[string]any
		hash   string
		secret []byte
	}{
		{name: "tampered field", params: tampered, hash: redirectHash, secret: testSecret},
		{name: "wrong secret", params: redirectParams(), hash: redirectHash, secret: []byte("OTHER")},
		{name: "empty hash", params: redirectParams(), hash: "", secret: testSecret},
		{name: "garbage hash", params: redirectParams(), hash: "zz", secret: testSecret},
		{name: "nil value", params: map[string]any{"vnp_TxnRef": nil}, hash: redirectHash, secret: testSecret},
		{name: "unsupported value", params: map[string]any{"vnp_TxnRef": struct{}{}}, hash: redirectHash, secret: testSecret},
		{name: "invalid utf8", params: map[string]any{"vnp_TxnRef": string([]byte{0xff, 0xfe})}, hash: redirectHash, secret: testSecret},
		{name: "nil params", params: nil, hash: redirectHash, secret: testSecret},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.False(t, Verify(tc.params, tc.hash, tc.secret))
		})
	}
}

func TestVerifyStrings(t *testing.T) {
	t.Parallel()

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
		"vnp_SecureHashType":    "HmacSHA512",
		"vnp_SecureHash":        "70382d2cd6d041d422046cb13c47c0f29735a68bc2c010da26b11386251c11ff858d2eeb63037450d218419ee02adf2c3b8a8e5a452f7178e2c0d3a0b911ff80",
	}
	assert.True(t, VerifyStrings(params, testSecret))
	params["vnp_ResponseCode"] = "24"
	assert.False(t, VerifyStrings(params, testSecret), "modified callback")
	delete(params, FieldSecureHash)
	assert.False(t, VerifyStrings(params, testSecret), "callback without hash")
}
