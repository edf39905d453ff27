package vnpay

const ResponseCodeSuccess = "00"

var responseMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Amount debited. Transaction is suspected of fraud or is unusual",
	"09": "Transaction failed: card or account is not registered for internet banking",
	"10": "Transaction failed: card or account authentication failed more than 3 times",
	"11": "Transaction failed: payment window expired, please retry",
	"12": "Transaction failed: card or account is locked",
	"13": "Transaction failed: wrong one-time password, please retry",
	"24": "Transaction failed: customer cancelled the transaction",
	"51": "Transaction failed: insufficient account balance",
	"65": "Transaction failed: account exceeded its daily transaction limit",
	"75": "Paying bank is under maintenance",
	"79": "Transaction failed: payment password entered wrong too many times, please retry",
	"99": "Other error",
}

const unknownResponseMessage = "Unknown error"

// DecodeResponseCode maps a gateway response code to a readable reason.
func DecodeResponseCode(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return unknownResponseMessage
}

func IsSuccessCode(code string) bool {
	return code == ResponseCodeSuccess
}
