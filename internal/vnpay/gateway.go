package vnpay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	DefaultVersion       = "2.1.0"
	DefaultLocale        = "vn"
	DefaultExpiryMinutes = 15
	MinExpiryMinutes     = 5
	MaxExpiryMinutes     = 60

	commandPay   = "pay"
	currencyVND  = "VND"
	orderTypeAny = "other"
	fallbackIP   = "127.0.0.1"

	// minorUnitFactor scales VND amounts to the gateway's integer amount field.
	minorUnitFactor = 100
	timeLayout      = "20060102150405"
)

var (
	ErrInvalidAmount     = errors.New("amount must be a positive number")
	ErrInvalidExpiry     = errors.New("expiry minutes must be between 5 and 60")
	ErrMalformedCallback = errors.New("malformed gateway callback")
	ErrMissingOrderID    = errors.New("order id is required")
)

type Config struct {
	TmnCode    string
	HashSecret string
	PaymentURL string
	ReturnURL  string
	Locale     string
	Version    string
}

// Gateway builds signed payment requests and checks gateway callbacks.
type Gateway struct {
	cfg      Config
	secret   []byte
	location *time.Location
	now      func() time.Time
}

type Option func(*Gateway)

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func New(cfg Config, opts ...Option) *Gateway {
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = DefaultVersion
	}
	if strings.TrimSpace(cfg.Locale) == "" {
		cfg.Locale = DefaultLocale
	}
	g := &Gateway{
		cfg:      cfg,
		secret:   []byte(cfg.HashSecret),
		location: gatewayLocation(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RedirectRequest describes one redirect payment attempt. Amount is in VND.
type RedirectRequest struct {
	OrderID   string
	Amount    int64
	OrderInfo string
	ClientIP  string
	Locale    string
	BankCode  string
	ReturnURL string
}

type PaymentURL struct {
	URL        string
	SecureHash string
	CreatedAt  time.Time
}

type QRRequest struct {
	RedirectRequest
	ExpiryMinutes int
}

type QRSession struct {
	URL        string
	QRPayload  string
	SecureHash string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (g *Gateway) CreateRedirectPaymentRequest(req RedirectRequest) (PaymentURL, error) {
	var out PaymentURL
	if err := validateRequest(req); err != nil {
		return out, err
	}
	created := g.now()
	if req.OrderInfo == "" {
		req.OrderInfo = "Thanh toan cho ma GD:" + req.OrderID
	}
	params := g.baseParams(req, created)

	canonical, hash, err := g.sign(params)
	if err != nil {
		return out, err
	}
	out.URL = g.cfg.PaymentURL + "?" + canonical.Join() + "&" + FieldSecureHash + "=" + hash
	out.SecureHash = hash
	out.CreatedAt = created
	return out, nil
}

func (g *Gateway) CreateQrPaymentSession(req QRRequest) (QRSession, error) {
	var out QRSession
	if err := validateRequest(req.RedirectRequest); err != nil {
		return out, err
	}
	minutes, err := NormalizeExpiry(req.ExpiryMinutes)
	if err != nil {
		return out, err
	}
	created := g.now()
	expires := created.Add(time.Duration(minutes) * time.Minute)
	if req.OrderInfo == "" {
		req.OrderInfo = "Thanh toan QR cho ma GD:" + req.OrderID
	}
	params := g.baseParams(req.RedirectRequest, created)
	params["vnp_PaymentType"] = "qr"
	params["vnp_ExpireDate"] = g.formatTime(expires)

	canonical, hash, err := g.sign(params)
	if err != nil {
		return out, err
	}
	out.URL = g.cfg.PaymentURL + "?" + canonical.Join() + "&" + FieldSecureHash + "=" + hash
	out.QRPayload = qrString(canonical, hash)
	out.SecureHash = hash
	out.CreatedAt = created
	out.ExpiresAt = expires
	return out, nil
}

// VerifyCallback checks the secure hash of a callback parameter set.
func (g *Gateway) VerifyCallback(params map[string]string) bool {
	return VerifyStrings(params, g.secret)
}

// Callback is a parsed gateway result correlated to an order by TxnRef.
type Callback struct {
	TxnRef            string
	Amount            int64
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	CardType          string
	OrderInfo         string
	PayDate           *time.Time
}

// Success reports a paid transaction. The transaction status is only checked when sent.
func (c Callback) Success() bool {
	if !IsSuccessCode(c.ResponseCode) {
		return false
	}
	return c.TransactionStatus == "" || c.TransactionStatus == ResponseCodeSuccess
}

func (c Callback) Message() string {
	code := c.ResponseCode
	if IsSuccessCode(code) && c.TransactionStatus != "" && c.TransactionStatus != ResponseCodeSuccess {
		code = c.TransactionStatus
	}
	return DecodeResponseCode(code)
}

func (g *Gateway) ParseCallback(params map[string]string) (Callback, error) {
	var out Callback
	out.TxnRef = strings.TrimSpace(params["vnp_TxnRef"])
	if out.TxnRef == "" {
		return out, fmt.Errorf("%w: missing vnp_TxnRef", ErrMalformedCallback)
	}
	rawAmount := strings.TrimSpace(params["vnp_Amount"])
	scaled, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil || scaled < 0 || scaled%minorUnitFactor != 0 {
		return out, fmt.Errorf("%w: invalid vnp_Amount %q", ErrMalformedCallback, rawAmount)
	}
	out.Amount = scaled / minorUnitFactor
	out.ResponseCode = strings.TrimSpace(params["vnp_ResponseCode"])
	if out.ResponseCode == "" {
		return out, fmt.Errorf("%w: missing vnp_ResponseCode", ErrMalformedCallback)
	}
	out.TransactionStatus = strings.TrimSpace(params["vnp_TransactionStatus"])
	out.TransactionNo = strings.TrimSpace(params["vnp_TransactionNo"])
	out.BankCode = strings.TrimSpace(params["vnp_BankCode"])
	out.CardType = strings.TrimSpace(params["vnp_CardType"])
	out.OrderInfo = params["vnp_OrderInfo"]
	if raw := strings.TrimSpace(params["vnp_PayDate"]); raw != "" {
		if parsed, err := time.ParseInLocation(timeLayout, raw, g.location); err == nil {
			out.PayDate = &parsed
		}
	}
	return out, nil
}

// ScaleAmount converts a VND amount to the gateway amount field.
func ScaleAmount(amount int64) int64 {
	return amount * minorUnitFactor
}

// NormalizeExpiry applies the default and enforces the allowed range.
func NormalizeExpiry(minutes int) (int, error) {
	if minutes == 0 {
		return DefaultExpiryMinutes, nil
	}
	if minutes < MinExpiryMinutes || minutes > MaxExpiryMinutes {
		return 0, ErrInvalidExpiry
	}
	return minutes, nil
}

func (g *Gateway) FormatTime(t time.Time) string {
	return g.formatTime(t)
}

func (g *Gateway) baseParams(req RedirectRequest, created time.Time) map[string]any {
	locale := req.Locale
	if locale == "" {
		locale = g.cfg.Locale
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.cfg.ReturnURL
	}
	clientIP := strings.TrimSpace(req.ClientIP)
	if clientIP == "" {
		clientIP = fallbackIP
	}
	params := map[string]any{
		"vnp_Version":    g.cfg.Version,
		"vnp_Command":    commandPay,
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Locale":     locale,
		"vnp_CurrCode":   currencyVND,
		"vnp_TxnRef":     req.OrderID,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  orderTypeAny,
		"vnp_Amount":     ScaleAmount(req.Amount),
		"vnp_ReturnUrl":  returnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": g.formatTime(created),
	}
	if bank := strings.TrimSpace(req.BankCode); bank != "" {
		params["vnp_BankCode"] = bank
	}
	return params
}

func (g *Gateway) sign(params map[string]any) (Canonical, string, error) {
	canonical, err := Canonicalize(params)
	if err != nil {
		return nil, "", err
	}
	return canonical, Sign(canonical, g.secret), nil
}

func (g *Gateway) formatTime(t time.Time) string {
	return t.In(g.location).Format(timeLayout)
}

// qrString renders VNPAY|version|command|tmnCode|amount|txnRef|orderInfo|createDate|hash
// from the canonical (already encoded) values.
func qrString(c Canonical, hash string) string {
	get := func(key string) string {
		v, _ := c.Get(key)
		return v
	}
	orderInfo := escapeComponent(get("vnp_OrderInfo"))
	return strings.Join([]string{
		"VNPAY",
		get("vnp_Version"),
		get("vnp_Command"),
		get("vnp_TmnCode"),
		get("vnp_Amount"),
		get("vnp_TxnRef"),
		orderInfo,
		get("vnp_CreateDate"),
		hash,
	}, "|")
}

func validateRequest(req RedirectRequest) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return ErrMissingOrderID
	}
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func gatewayLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}
